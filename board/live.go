package board

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultRetry is the pause between failed attempts to open the board.
const DefaultRetry = 5 * time.Second

// DefaultResync is how often a Live board is rebuilt from the store.
const DefaultResync = time.Minute

// ErrNotReady is reported by Live.Err before the first view opened.
var ErrNotReady = errors.New("board not loaded")

// Live keeps a View open, reopening it with a fresh bootstrap whenever the
// change stream ends. It also rebuilds the view every resync interval, which
// repairs the board after a change whose notification never arrived.
// Snapshot versions keep increasing across reopens.
type Live struct {
	store  Store
	feed   Feed
	opts   Options
	retry  time.Duration
	resync time.Duration

	mu   sync.RWMutex
	view *View
	base uint64
}

// NewLive prepares a Live board; Run opens it. A zero retry or resync selects
// the default.
func NewLive(store Store, feed Feed, opts Options, retry, resync time.Duration) *Live {
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	if retry <= 0 {
		retry = DefaultRetry
	}
	if resync <= 0 {
		resync = DefaultResync
	}
	return &Live{store: store, feed: feed, opts: opts, retry: retry, resync: resync}
}

// Run opens the board and keeps it open until ctx is cancelled.
func (l *Live) Run(ctx context.Context) error {
	var cur *View
	for {
		if cur == nil {
			v, err := Open(ctx, l.store, l.feed, l.opts)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				l.opts.Logger.WithError(err).Error("unable to open board")
				if !sleep(ctx, l.retry) {
					return nil
				}
				continue
			}
			cur = v
			l.install(cur)
		}

		resync := time.NewTimer(l.resync)
		select {
		case <-ctx.Done():
			resync.Stop()
			return cur.Close()
		case <-cur.Done():
			resync.Stop()
			if err := cur.Close(); err != nil {
				l.opts.Logger.WithError(err).Warn("close stopped board view")
			}
			l.opts.Logger.WithError(cur.Err()).Warn("board view stopped, reopening")
			cur = nil
			if !sleep(ctx, l.retry) {
				return nil
			}
		case <-resync.C:
			next, err := Open(ctx, l.store, l.feed, l.opts)
			if err != nil {
				if ctx.Err() != nil {
					return cur.Close()
				}
				l.opts.Logger.WithError(err).Warn("board resync failed, keeping current view")
				continue
			}
			prev := cur
			cur = next
			l.install(cur)
			if err := prev.Close(); err != nil {
				l.opts.Logger.WithError(err).Warn("close replaced board view")
			}
			l.opts.Logger.Debug("board resynced")
		}
	}
}

func (l *Live) install(v *View) {
	l.swap(v)
	if n := l.opts.Notifier; n != nil {
		n.BoardChanged(l.Snapshot())
	}
}

func (l *Live) swap(v *View) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.view != nil {
		if snap := l.view.Snapshot(); snap != nil {
			l.base += snap.Version
		}
	}
	l.view = v
}

// Snapshot returns the latest board, or nil before the first open. While a
// reopen is pending the last board of the stopped view is served.
func (l *Live) Snapshot() *Snapshot {
	l.mu.RLock()
	v, base := l.view, l.base
	l.mu.RUnlock()
	if v == nil {
		return nil
	}
	snap := v.Snapshot()
	if snap == nil || base == 0 {
		return snap
	}
	return &Snapshot{Version: base + snap.Version, Buckets: snap.Buckets}
}

// Err reports why the board is not current.
func (l *Live) Err() error {
	l.mu.RLock()
	v := l.view
	l.mu.RUnlock()
	if v == nil {
		return ErrNotReady
	}
	return v.Err()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
