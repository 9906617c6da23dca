package room

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const outboxBuffer = 32

type outboxItem struct {
	epoch uint64
	due   time.Time
	msg   any
}

// outbox delivers one peer's messages in the order they were scheduled. Each message waits
// for its own delay but never overtakes an earlier one, so a short delay queued behind a long
// one is sent right after it.
type outbox struct {
	send   func(any) error
	logger *slog.Logger

	items    chan outboxItem
	minEpoch atomic.Uint64
	done     chan struct{}
	close    sync.Once
}

func newOutbox(send func(any) error, logger *slog.Logger) *outbox {
	o := &outbox{
		send:   send,
		logger: logger,
		items:  make(chan outboxItem, outboxBuffer),
		done:   make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *outbox) push(epoch uint64, delay time.Duration, msg any) {
	item := outboxItem{epoch: epoch, due: time.Now().Add(delay), msg: msg}
	select {
	case o.items <- item:
	case <-o.done:
	}
}

// invalidateBefore drops every queued message older than epoch.
func (o *outbox) invalidateBefore(epoch uint64) {
	o.minEpoch.Store(epoch)
}

func (o *outbox) stop() {
	o.close.Do(func() { close(o.done) })
}

func (o *outbox) run() {
	for {
		var item outboxItem
		select {
		case item = <-o.items:
		case <-o.done:
			return
		}

		if wait := time.Until(item.due); wait > 0 {
			select {
			case <-time.After(wait):
			case <-o.done:
				return
			}
		}

		if item.epoch < o.minEpoch.Load() {
			o.logger.Debug("dropping stale message", "epoch", item.epoch)
			continue
		}
		if err := o.send(item.msg); err != nil {
			o.logger.Warn("failed to deliver message", "err", err)
		}
	}
}
