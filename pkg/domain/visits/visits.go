// Package visits covers booked appointments after submission: customers list
// and cancel theirs, staff list their day and redeem visits against a card.
package visits

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/napryag/salon_bot/pkg/domain/cards"
	"github.com/napryag/salon_bot/pkg/repository/model"
	"github.com/napryag/salon_bot/pkg/utils/errs"
)

var (
	ErrClosed       = errors.New("appointment already closed")
	ErrCardUnusable = errors.New("card cannot be charged")
)

// Closer is the command side used to close appointments.
type Closer interface {
	CancelAppointment(ctx context.Context, id int64) error
	CompleteAppointment(ctx context.Context, id int64, cmd model.CompleteCommand) error
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Open reports whether the appointment can still be cancelled or redeemed.
func Open(a model.Appointment) bool {
	return a.Status == model.StatusPending || a.Status == model.StatusConfirmed
}

var statusTitles = map[string]string{
	model.StatusPending:   "ожидает подтверждения",
	model.StatusConfirmed: "подтверждена",
	model.StatusCompleted: "проведена",
	model.StatusCancelled: "отменена",
}

func StatusTitle(status string) string {
	if t, ok := statusTitles[status]; ok {
		return t
	}
	return status
}

// Sort orders appointments by date and start time, earliest first.
func Sort(list []model.AppointmentDetail) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.AppointmentDate != b.AppointmentDate {
			return a.AppointmentDate < b.AppointmentDate
		}
		return a.StartTime < b.StartTime
	})
}

// Find returns the appointment with the given id.
func Find(list []model.AppointmentDetail, id int64) (model.AppointmentDetail, bool) {
	for _, a := range list {
		if a.ID == id {
			return a, true
		}
	}
	return model.AppointmentDetail{}, false
}

// Dates is the staff day picker: before days back through after days ahead
// of today in loc, as YYYY-MM-DD.
func Dates(now time.Time, loc *time.Location, before, after int) []string {
	if loc == nil {
		loc = time.Local
	}
	today := now.In(loc)
	out := make([]string, 0, before+after+1)
	for i := -before; i <= after; i++ {
		out = append(out, today.AddDate(0, 0, i).Format("2006-01-02"))
	}
	return out
}

// Redeemable keeps the customer's cards a visit can be charged to.
func Redeemable(owned []model.OwnedCard, now time.Time) []cards.Card {
	out := make([]cards.Card, 0, len(owned))
	for _, c := range cards.Classify(owned, now) {
		if c.IsActive && c.IsUsable {
			out = append(out, c)
		}
	}
	return out
}

// Cancel cancels an open appointment.
func Cancel(ctx context.Context, c Closer, apt model.AppointmentDetail) error {
	if !Open(apt.Appointment) {
		return errs.Validation("Запись уже закрыта").Arg("appointment_id", apt.ID).Arg("status", apt.Status).Wrap(ErrClosed)
	}
	if err := c.CancelAppointment(ctx, apt.ID); err != nil {
		return errs.New("cancel appointment").Arg("appointment_id", apt.ID).Wrap(err)
	}
	return nil
}

// Complete closes an open appointment and charges one use of card.
func Complete(ctx context.Context, c Closer, apt model.AppointmentDetail, card cards.Card) error {
	if !Open(apt.Appointment) {
		return errs.Validation("Запись уже закрыта").Arg("appointment_id", apt.ID).Arg("status", apt.Status).Wrap(ErrClosed)
	}
	if !card.IsActive {
		return errs.Validation("Карта не активна").Arg("card_id", card.ID).Wrap(ErrCardUnusable)
	}
	if err := cards.CheckSelectable(card); err != nil {
		return err
	}
	cmd := model.CompleteCommand{UserCardID: card.ID}
	if err := validate.Struct(cmd); err != nil {
		return errs.Validation("Некорректные данные карты").Arg("details", err.Error())
	}
	if err := c.CompleteAppointment(ctx, apt.ID, cmd); err != nil {
		return errs.New("complete appointment").Arg("appointment_id", apt.ID).Arg("card_id", card.ID).Wrap(err)
	}
	return nil
}
