package receiver

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/napryag/salon_bot/pkg/domain/cards"
	"github.com/napryag/salon_bot/pkg/domain/visits"
	"github.com/napryag/salon_bot/pkg/repository/model"
	"github.com/napryag/salon_bot/pkg/utils/errs"
)

// Staff day picker: three days back, a week ahead.
const (
	visitDaysBefore = 3
	visitDaysAfter  = 6
)

func (h *Handler) today() string {
	return h.now().In(h.loc).Format("2006-01-02")
}

func (h *Handler) openMine(sess *Session) {
	sess.setScreen(ScreenMine)
	h.loadVisits(sess, "")
}

func (h *Handler) openStaffDay(sess *Session, date string) error {
	if !sess.Auth.IsStaff() {
		return errs.Validation("Доступно только сотрудникам")
	}
	if date == "" {
		date = h.today()
	}
	sess.setScreen(ScreenVisits)
	h.loadVisits(sess, date)
	return nil
}

// loadVisits loads the customer's appointments, or the staff member's for
// date when date is set.
func (h *Handler) loadVisits(sess *Session, date string) {
	rev := sess.beginVisits(date)
	h.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()

		var (
			list []model.AppointmentDetail
			err  error
		)
		if date != "" {
			list, err = sess.client.StaffAppointments(ctx, date)
		} else {
			list, err = sess.client.MyAppointments(ctx)
		}
		visits.Sort(list)
		if !sess.applyVisits(rev, list) {
			h.logger.Debug().Int64("user_id", sess.UserID).Str("date", date).Msg("stale appointment list dropped")
			return
		}
		if err != nil {
			sess.Notify(h.describe(sess, err))
		}
		h.renderPanel(sess)
	})
}

func (h *Handler) cancelVisit(sess *Session, id int64) error {
	apt, ok := visits.Find(sess.visitsSnapshot().items, id)
	if !ok {
		return errs.Validation("Запись не найдена").Arg("appointment_id", id)
	}
	if !visits.Open(apt.Appointment) {
		return errs.Validation("Запись уже закрыта").Arg("appointment_id", id).Wrap(visits.ErrClosed)
	}
	h.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()

		if err := visits.Cancel(ctx, sess.client, apt); err != nil {
			sess.Notify(h.describe(sess, err))
			h.renderPanel(sess)
			return
		}
		h.logger.Info().Int64("user_id", sess.UserID).Int64("appointment_id", id).Msg("appointment cancelled")
		h.loadVisits(sess, "")
		sess.Notify(fmt.Sprintf("Запись #%d отменена", id))
		h.renderPanel(sess)
	})
	return nil
}

// startRedeem loads the customer's cards for closing appointment id.
func (h *Handler) startRedeem(sess *Session, id int64) error {
	apt, ok := visits.Find(sess.visitsSnapshot().items, id)
	if !ok {
		return errs.Validation("Запись не найдена").Arg("appointment_id", id)
	}
	if !visits.Open(apt.Appointment) {
		return errs.Validation("Запись уже закрыта").Arg("appointment_id", id).Wrap(visits.ErrClosed)
	}
	rev := sess.beginRedeem(apt)
	h.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()

		owned, err := sess.client.UserCards(ctx, apt.CustomerID)
		if !sess.applyRedeemCards(rev, visits.Redeemable(owned, h.now())) {
			return
		}
		if err != nil {
			sess.Notify(h.describe(sess, err))
		}
		h.renderPanel(sess)
	})
	return nil
}

func (h *Handler) redeem(sess *Session, cardID int64) error {
	v := sess.visitsSnapshot()
	if v.redeem == nil || v.cardsLoading {
		return errs.Validation("Кнопка устарела, откройте список заново")
	}
	card, ok := cards.Find(v.cards, cardID)
	if !ok {
		return errs.Validation("Карта не найдена").Arg("card_id", cardID)
	}
	apt := *v.redeem
	h.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()

		if err := visits.Complete(ctx, sess.client, apt, card); err != nil {
			sess.Notify(h.describe(sess, err))
			h.renderPanel(sess)
			return
		}
		h.logger.Info().Int64("user_id", sess.UserID).Int64("appointment_id", apt.ID).Int64("card_id", card.ID).Msg("appointment completed")
		h.loadVisits(sess, v.date)
		sess.Notify(fmt.Sprintf("✅ Запись #%d проведена по карте «%s»", apt.ID, card.Name))
		h.renderPanel(sess)
	})
	return nil
}

// visitsBack leaves card choice, or the list itself.
func (h *Handler) visitsBack(sess *Session) {
	if sess.visitsSnapshot().redeem != nil {
		sess.endRedeem()
		return
	}
	sess.reset()
}

// handleFindUser takes "/finduser <имя>" and lists matching customers with
// their ids for /addcard.
func (h *Handler) handleFindUser(ctx context.Context, sess *Session, m *tgbotapi.Message) {
	if !h.requireLogin(sess, m.Chat.ID) {
		return
	}
	if !sess.Auth.IsStaff() {
		h.sendText(m.Chat.ID, "Команда доступна только сотрудникам")
		return
	}
	name := strings.TrimSpace(m.CommandArguments())
	if name == "" {
		h.sendText(m.Chat.ID, "Использование: /finduser <имя>")
		return
	}

	users, err := sess.client.SearchUsers(ctx, name)
	if err != nil {
		h.logger.Warn().Err(err).Int64("user_id", sess.UserID).Msg("search users")
		h.sendText(m.Chat.ID, errs.UserMessage(err))
		return
	}
	if len(users) == 0 {
		h.sendText(m.Chat.ID, "Клиенты не найдены")
		return
	}
	var b strings.Builder
	b.WriteString("Найдены клиенты:\n")
	for _, u := range users {
		fmt.Fprintf(&b, "#%d · %s", u.ID, u.DisplayName())
		if u.Phone != nil && *u.Phone != "" && u.DisplayName() != *u.Phone {
			fmt.Fprintf(&b, " · %s", *u.Phone)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nДобавить карту: /addcard <id клиента> <id типа карты>")
	h.sendText(m.Chat.ID, b.String())
}
