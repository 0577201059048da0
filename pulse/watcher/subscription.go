package watcher

import (
	"context"

	"github.com/smtaidev/outbound/errors"
	"github.com/smtaidev/outbound/logger"
)

const subscriptionBuffer = 8

// Subscription receives window-end events
type Subscription struct {
	w  *Watcher
	ch chan Event
}

// Subscribe registers a new subscriber. Close it when done.
func (w *Watcher) Subscribe() *Subscription {
	s := &Subscription{w: w, ch: make(chan Event, subscriptionBuffer)}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx.Err() != nil {
		close(s.ch)
		return s
	}
	w.subs[s] = struct{}{}
	return s
}

// Next blocks for the next event of the current generation. Events from
// superseded generations are discarded and counted.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case ev, ok := <-s.ch:
			if !ok {
				return Event{}, errors.Wrap(errors.ErrServiceUnavailable, "watcher stopped")
			}
			if err := s.w.CheckCurrent(ev); err != nil {
				s.w.stale.Add(1)
				s.w.logger.Debugw("Discarding stale window event",
					logger.FieldGeneration, ev.Generation,
					logger.FieldError, err)
				continue
			}
			return ev, nil
		}
	}
}

// Close unregisters the subscription
func (s *Subscription) Close() {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	if _, ok := s.w.subs[s]; ok {
		delete(s.w.subs, s)
		close(s.ch)
	}
}
