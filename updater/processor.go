package updater

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"grafsys/domain"
)

const (
	DefaultPollInterval    = time.Second
	DefaultMaxDequeueCount = 5
)

type commandApplier interface {
	Apply(ctx context.Context, cmd domain.Command) (Result, error)
}

type changePublisher interface {
	Publish(ctx context.Context, ev domain.ChangeEvent) error
}

type sellerEvictor interface {
	EvictSeller(ctx context.Context, sellerIDs ...string)
}

type commandQueue interface {
	Dequeue(ctx context.Context) (*azqueue.DequeuedMessage, error)
	Delete(ctx context.Context, id, receipt string) error
}

// Options tune a Processor. Zero values select the defaults.
type Options struct {
	Logger          log.FieldLogger
	PollInterval    time.Duration
	MaxDequeueCount int64
}

// Processor drains the command queue.
type Processor struct {
	queue      commandQueue
	svc        commandApplier
	pub        changePublisher
	cache      sellerEvictor
	logger     log.FieldLogger
	poll       time.Duration
	maxDequeue int64
}

// NewProcessor creates a Processor. cache may be nil.
func NewProcessor(queue commandQueue, svc commandApplier, pub changePublisher, cache sellerEvictor, opts Options) *Processor {
	p := &Processor{
		queue:      queue,
		svc:        svc,
		pub:        pub,
		cache:      cache,
		logger:     opts.Logger,
		poll:       opts.PollInterval,
		maxDequeue: opts.MaxDequeueCount,
	}
	if p.logger == nil {
		p.logger = log.StandardLogger()
	}
	if p.poll <= 0 {
		p.poll = DefaultPollInterval
	}
	if p.maxDequeue <= 0 {
		p.maxDequeue = DefaultMaxDequeueCount
	}
	return p
}

// Process applies one queued command envelope, then evicts the affected
// seller caches and announces the change. Publish failures are logged only;
// the table already holds the change.
func (p *Processor) Process(ctx context.Context, payload string) error {
	var env domain.CommandEnvelope
	if err := sonic.UnmarshalString(payload, &env); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidCommand, err)
	}
	res, err := p.svc.Apply(ctx, env.Command)
	if err != nil {
		return err
	}
	if p.cache != nil {
		p.cache.EvictSeller(ctx, res.Sellers...)
	}
	if err := p.pub.Publish(ctx, res.Event); err != nil {
		p.logger.WithError(err).WithField("order", res.Event.ID).Errorf("unable to publish %s change", res.Event.Type)
	}
	return nil
}

// Run dequeues and processes commands until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		msg, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.WithError(err).Error("receive")
			p.wait(ctx)
			continue
		}
		if msg == nil {
			p.wait(ctx)
			continue
		}
		p.handle(ctx, msg)
	}
}

func (p *Processor) wait(ctx context.Context) {
	t := time.NewTimer(p.poll)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// permanent reports errors that redelivery cannot fix.
func permanent(err error) bool {
	return errors.Is(err, domain.ErrInvalidCommand) ||
		errors.Is(err, domain.ErrStaleCommand) ||
		errors.Is(err, domain.ErrOrderExists) ||
		errors.Is(err, domain.ErrOrderNotFound)
}

func (p *Processor) handle(ctx context.Context, msg *azqueue.DequeuedMessage) {
	if msg.MessageID == nil || msg.PopReceipt == nil {
		p.logger.Error("dequeued message without id or receipt")
		return
	}
	logger := p.logger.WithField("message", *msg.MessageID)
	var text string
	if msg.MessageText != nil {
		text = *msg.MessageText
	}
	err := p.Process(ctx, text)
	switch {
	case err == nil:
	case permanent(err):
		logger.WithError(err).Warn("dropping command")
	case ctx.Err() != nil:
		return
	default:
		var count int64
		if msg.DequeueCount != nil {
			count = *msg.DequeueCount
		}
		if count < p.maxDequeue {
			logger.WithError(err).WithField("attempt", count).Warn("command failed, leaving for redelivery")
			return
		}
		logger.WithError(err).WithField("attempt", count).Error("discarding poison command")
	}
	if err := p.queue.Delete(ctx, *msg.MessageID, *msg.PopReceipt); err != nil {
		logger.WithError(err).Error("unable to delete command")
	}
}
