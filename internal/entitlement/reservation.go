package entitlement

import (
	"context"
	"sync/atomic"
	"time"
)

// Reservation is one unit of quota taken by Reserve.
// Pro users get unmetered reservations, for which Release does nothing.
type Reservation struct {
	svc      *service
	userID   string
	feature  Feature
	window   time.Time
	metered  bool
	released atomic.Bool

	Used  int64 // count after this reservation, zero when unmetered
	Limit int64
}

func (r *Reservation) Metered() bool { return r != nil && r.metered }

func (r *Reservation) Feature() Feature { return r.feature }

// Remaining is the quota left after this reservation, or -1 when unmetered.
func (r *Reservation) Remaining() int64 {
	if !r.Metered() {
		return -1
	}
	return max(r.Limit-r.Used, 0)
}

// Release gives the unit back, typically after the vendor call failed.
// Only the first call has an effect. Failures follow the release policy.
func (r *Reservation) Release(ctx context.Context) error {
	if !r.Metered() || !r.released.CompareAndSwap(false, true) {
		return nil
	}
	s := r.svc
	if err := s.store.RefundUsage(ctx, r.userID, r.feature, r.window, s.now()); err != nil {
		return s.swallow(ctx, OpRelease, r.userID, r.feature, err)
	}
	s.observer.ReservationOutcome(r.feature, "released")
	return nil
}
