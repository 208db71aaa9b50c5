package registry

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/veranemoloko/transfer-tracker/internal/metrics"
)

type subscriber struct {
	id  uuid.UUID
	seq uint64
	fn  func(Snapshot)

	// delivered is the last version handed to fn. Only the dispatcher
	// goroutine touches it after registration.
	delivered uint64
}

// Subscribe registers fn to receive the latest snapshot after mutations.
//
// Deliveries happen on the registry's dispatcher goroutine, one subscriber
// at a time, and are coalesced: a burst of mutations may produce a single
// delivery of the newest snapshot. Each subscriber sees strictly increasing
// versions. A new subscriber is sent the current snapshot on the next
// dispatch. The returned function unsubscribes and is safe to call more
// than once; a delivery already in flight may still complete.
func (r *Registry) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	r.subMu.Lock()
	r.nextSeq++
	sub := &subscriber{
		id:  uuid.New(),
		seq: r.nextSeq,
		fn:  fn,
	}
	r.subs[sub.id] = sub
	metrics.Subscribers.Inc()
	r.subMu.Unlock()

	r.logger.Debug("subscriber added", "subscriber_id", sub.id)
	r.signal()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, sub.id)
			metrics.Subscribers.Dec()
			r.subMu.Unlock()

			r.logger.Debug("subscriber removed", "subscriber_id", sub.id)
		})
	}
}

// signal wakes the dispatcher without blocking. Pending wakeups collapse
// into one.
func (r *Registry) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Registry) run() {
	defer close(r.done)
	// A final pass so subscribers settle on the last state.
	defer r.dispatch()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.wake:
		}

		if err := r.limiter.Wait(r.ctx); err != nil {
			return
		}

		r.dispatch()
	}
}

func (r *Registry) dispatch() {
	snap := r.Snapshot()

	r.subMu.Lock()
	subs := make([]*subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.subMu.Unlock()

	slices.SortFunc(subs, func(a, b *subscriber) int {
		return cmp.Compare(a.seq, b.seq)
	})

	for _, s := range subs {
		if s.delivered >= snap.Version() {
			continue
		}
		s.delivered = snap.Version()
		r.deliver(s, snap)
	}
}

func (r *Registry) deliver(s *subscriber, snap Snapshot) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("subscriber panicked",
				"subscriber_id", s.id,
				"version", snap.Version(),
				"panic", rec,
			)
		}
	}()

	s.fn(snap)
	metrics.NotificationsDelivered.Inc()
}

// Shutdown stops the dispatcher after delivering the latest snapshot to
// current subscribers. Mutations keep working afterwards but nobody is
// notified.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.cancel()

	select {
	case <-r.done:
		r.logger.Info("registry dispatcher stopped")
		return nil
	case <-ctx.Done():
		r.logger.Warn("registry dispatcher shutdown timed out")
		return ctx.Err()
	}
}
