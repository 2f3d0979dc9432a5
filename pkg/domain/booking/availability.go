package booking

import (
	"context"
	"errors"
	"time"

	"github.com/napryag/salon_bot/pkg/repository/model"
	"github.com/napryag/salon_bot/pkg/utils/errs"
)

// StaffFetcher is the part of the data-fetch interface availability needs.
type StaffFetcher interface {
	AvailableStaff(ctx context.Context, storeID int64, workDate string, durationMin int) ([]model.StaffAvailability, error)
}

// AvailabilityQuery is the snapshot of selections a staff lookup was issued for.
// Its result is applied only while the flow still holds that snapshot.
type AvailabilityQuery struct {
	StoreID  int64
	Date     string
	Duration int

	rev uint64
}

// Run asks the backend for staff able to serve Duration minutes on Date.
// A failure yields an empty list together with the error.
func (q AvailabilityQuery) Run(ctx context.Context, f StaffFetcher, timeout time.Duration) ([]model.StaffAvailability, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	staff, err := f.AvailableStaff(ctx, q.StoreID, q.Date, q.Duration)
	if err != nil {
		wrapped := errs.New("load available staff").
			Arg("store_id", q.StoreID).
			Arg("date", q.Date).
			Arg("duration", q.Duration).
			Wrap(err)
		if errs.KindOf(err) == errs.KindUnknown && errors.Is(err, context.DeadlineExceeded) {
			wrapped.Kind(errs.KindNetwork)
		}
		return []model.StaffAvailability{}, wrapped
	}
	if staff == nil {
		staff = []model.StaffAvailability{}
	}
	return staff, nil
}
