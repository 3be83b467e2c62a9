// Package feed carries order change events over Redis pub/sub.
package feed

import (
	"context"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"grafsys/board"
	"grafsys/domain"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "order-changes"

const defaultBuffer = 256

// Publisher announces applied order changes.
type Publisher struct {
	rc      *redis.Client
	channel string
}

// NewPublisher creates a Publisher on channel.
func NewPublisher(rc *redis.Client, channel string) *Publisher {
	return &Publisher{rc: rc, channel: channel}
}

// Publish sends ev to every subscriber.
func (p *Publisher) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	return p.rc.Publish(ctx, p.channel, data).Err()
}

// Feed subscribes to order changes published on a Redis channel.
type Feed struct {
	rc      *redis.Client
	channel string
	logger  log.FieldLogger
	buffer  int
}

// New creates a Feed reading channel.
func New(rc *redis.Client, channel string, logger log.FieldLogger) *Feed {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Feed{rc: rc, channel: channel, logger: logger, buffer: defaultBuffer}
}

// Subscribe registers on the channel and returns once Redis confirmed the
// subscription, so no event published afterwards is missed.
func (f *Feed) Subscribe(ctx context.Context) (board.Subscription, error) {
	ps := f.rc.Subscribe(ctx, f.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	s := &subscription{
		ps:     ps,
		logger: f.logger.WithField("channel", f.channel),
		events: make(chan domain.ChangeEvent, f.buffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.pump(ps.Channel())
	return s, nil
}

type subscription struct {
	ps     *redis.PubSub
	logger log.FieldLogger
	events chan domain.ChangeEvent
	stop   chan struct{}
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func (s *subscription) Events() <-chan domain.ChangeEvent { return s.events }

func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.closeErr = s.ps.Close()
		<-s.done
	})
	return s.closeErr
}

func (s *subscription) pump(msgs <-chan *redis.Message) {
	defer close(s.done)
	defer close(s.events)
	for {
		select {
		case <-s.stop:
			return
		case msg, ok := <-msgs:
			if !ok {
				select {
				case <-s.stop:
				default:
					s.logger.Error("pubsub channel closed")
				}
				return
			}
			var ev domain.ChangeEvent
			if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil {
				s.logger.WithError(err).Warn("unable to parse order change")
				continue
			}
			select {
			case s.events <- ev:
			case <-s.stop:
				return
			}
		}
	}
}
