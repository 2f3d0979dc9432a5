package receiver

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/napryag/salon_bot/pkg/domain/booking"
	"github.com/napryag/salon_bot/pkg/domain/bot/receiver/keyboards"
	"github.com/napryag/salon_bot/pkg/domain/cards"
	"github.com/napryag/salon_bot/pkg/domain/catalog"
	"github.com/napryag/salon_bot/pkg/domain/issuance"
	"github.com/napryag/salon_bot/pkg/domain/visits"
	"github.com/napryag/salon_bot/pkg/repository/model"
)

// ---------- Rendering по состоянию ----------

func (h *Handler) render(sess *Session) (string, tgbotapi.InlineKeyboardMarkup) {
	var (
		text string
		kb   tgbotapi.InlineKeyboardMarkup
	)
	switch sess.Screen() {
	case ScreenBooking:
		text, kb = h.renderBooking(sess)
	case ScreenIssue:
		text, kb = renderIssue(sess.Issue)
	case ScreenMine:
		text, kb = renderMine(sess.visitsSnapshot())
	case ScreenVisits:
		text, kb = h.renderVisits(sess.visitsSnapshot())
	default:
		text = fmt.Sprintf("Здравствуйте, %s!\nВыберите действие:", sess.displayName())
		kb = keyboards.MainMenu(sess.Auth.IsStaff())
	}
	if n := sess.noticeText(); n != "" {
		text = "⚠️ " + n + "\n\n" + text
	}
	return text, kb
}

func (h *Handler) renderBooking(sess *Session) (string, tgbotapi.InlineKeyboardMarkup) {
	flow := sess.Booking
	switch flow.Step() {
	case booking.StepSelectStore:
		return renderStores(sess)
	case booking.StepSelectMembership:
		sel := flow.Selection()
		return fmt.Sprintf("Салон: %s\n%s\n\nЕсть ли у вас карта?", sel.Store.Name, sel.Store.Address), keyboards.MembershipMenu()
	case booking.StepSelectServices:
		return renderServices(flow)
	case booking.StepSelectTime:
		return h.renderTime(flow)
	case booking.StepSubmitted:
		return renderSubmitted(flow.Selection(), sess.appointment())
	}
	return "Меню", keyboards.MainMenu(sess.Auth.IsStaff())
}

func renderStores(sess *Session) (string, tgbotapi.InlineKeyboardMarkup) {
	stores, loading := sess.storesSnapshot()
	if loading {
		return "⏳ Загружаем салоны…", keyboards.Rows(nil, 1, []keyboards.Button{keyboards.ToMain})
	}
	if len(stores) == 0 {
		return "Салоны не найдены.", keyboards.Rows(nil, 1, []keyboards.Button{keyboards.Retry, keyboards.ToMain})
	}

	buttons := make([]keyboards.Button, 0, len(stores))
	for _, st := range stores {
		buttons = append(buttons, keyboards.Button{Text: storeLabel(st), Data: keyboards.PStore + strconv.FormatInt(st.ID, 10)})
	}
	text := "Выберите салон:"
	if stores[0].Distance == nil {
		text += "\n📍 Отправьте геопозицию, чтобы увидеть ближайший."
	}
	return text, keyboards.Rows(buttons, 1, []keyboards.Button{keyboards.ToMain})
}

func storeLabel(st model.Store) string {
	label := st.Name
	if st.IsNearest {
		label = "⭐ " + label
	}
	if st.Distance != nil {
		label += " · " + keyboards.Distance(*st.Distance)
	}
	return label
}

func renderServices(flow *booking.Flow) (string, tgbotapi.InlineKeyboardMarkup) {
	sel := flow.Selection()
	var (
		b       strings.Builder
		buttons []keyboards.Button
		footer  [][]keyboards.Button
	)
	fmt.Fprintf(&b, "Салон: %s\n", sel.Store.Name)

	if sel.Membership == booking.MembershipMember {
		if !sel.CardsLoaded {
			b.WriteString("⏳ Загружаем ваши карты…")
			return b.String(), keyboards.Rows(nil, 1, []keyboards.Button{keyboards.Back})
		}
		if len(sel.Cards) == 0 {
			b.WriteString("Карты не найдены.")
			return b.String(), keyboards.Rows(nil, 1, []keyboards.Button{keyboards.Retry, keyboards.Back})
		}
		b.WriteString("Выберите карту:\n")
		for _, c := range sel.Cards {
			chosen := sel.Card != nil && sel.Card.ID == c.ID
			buttons = append(buttons, keyboards.Button{Text: cardLabel(c, chosen), Data: keyboards.PCard + strconv.FormatInt(c.ID, 10)})
		}
	}

	opts := flow.ServiceOptions()
	if len(opts) > 0 {
		b.WriteString("Выберите услуги:\n")
		for _, o := range opts {
			buttons = append(buttons, keyboards.Button{
				Text: keyboards.Toggle(fmt.Sprintf("%s (%d мин)", o.Name, o.Duration), o.Selected),
				Data: keyboards.PSvc + string(o.Type),
			})
		}
	}
	if len(sel.Services) > 0 {
		fmt.Fprintf(&b, "Длительность: %d мин", catalog.TotalDuration(sel.Services))
		footer = append(footer, []keyboards.Button{{Text: "Далее ➡️", Data: keyboards.CbNext}})
	}
	footer = append(footer, []keyboards.Button{keyboards.Back})
	return b.String(), keyboards.Rows(buttons, 1, footer...)
}

func cardLabel(c cards.Card, chosen bool) string {
	label := c.Name
	if c.RemainingUses != nil {
		label += fmt.Sprintf(" · осталось %d", *c.RemainingUses)
	}
	switch c.Reason() {
	case cards.ReasonExpired:
		return "⛔ " + label + " · истекла"
	case cards.ReasonExhausted:
		return "⛔ " + label
	}
	if chosen {
		return "✅ " + label
	}
	return "💳 " + label
}

func (h *Handler) renderTime(flow *booking.Flow) (string, tgbotapi.InlineKeyboardMarkup) {
	sel := flow.Selection()
	var b strings.Builder
	fmt.Fprintf(&b, "Салон: %s\nУслуги: %s (%d мин)\n", sel.Store.Name, servicesTitle(sel.Services), catalog.TotalDuration(sel.Services))

	dates := booking.DateOptions(h.now(), h.days, h.loc)
	footer := [][]keyboards.Button{}
	var buttons []keyboards.Button

	switch {
	case sel.Date == "":
		b.WriteString("Выберите дату:")
	case !sel.AvailabilityLoaded:
		b.WriteString("⏳ Ищем свободных мастеров…")
	case len(sel.AvailableStaff) == 0:
		b.WriteString("На эту дату свободных мастеров нет, выберите другую.")
		footer = append(footer, []keyboards.Button{keyboards.Retry})
	case sel.Staff == nil:
		b.WriteString("Выберите мастера:")
		for _, sa := range sel.AvailableStaff {
			buttons = append(buttons, keyboards.Button{
				Text: fmt.Sprintf("👤 %s (%d)", sa.Staff.DisplayName(), len(sa.AvailableTimes)),
				Data: keyboards.PStaff + strconv.FormatInt(sa.Staff.ID, 10),
			})
		}
	default:
		fmt.Fprintf(&b, "Мастер: %s\n", sel.Staff.Staff.DisplayName())
		for _, sa := range sel.AvailableStaff {
			if sa.Staff.ID == sel.Staff.Staff.ID {
				continue
			}
			buttons = append(buttons, keyboards.Button{
				Text: "👤 " + sa.Staff.DisplayName(),
				Data: keyboards.PStaff + strconv.FormatInt(sa.Staff.ID, 10),
			})
		}
		if sel.Time == "" {
			b.WriteString("Выберите время:")
		} else {
			fmt.Fprintf(&b, "Время: %s %s", keyboards.HumanDate(sel.Date), sel.Time)
		}
		footer = append(footer, keyboards.TimeButtons(sel.Staff.AvailableTimes, sel.Time))
		if sel.Time != "" {
			footer = append(footer, []keyboards.Button{{Text: "✅ Подтвердить запись", Data: keyboards.CbOk}})
		}
	}

	kb := keyboards.Rows(buttons, 1)
	dateRows := keyboards.Rows(keyboards.DateButtons(dates, sel.Date), 4)
	nav := keyboards.Rows(nil, 1, append(footer, []keyboards.Button{keyboards.Back, keyboards.ToStores})...)

	rows := append(dateRows.InlineKeyboard, kb.InlineKeyboard...)
	rows = append(rows, splitLong(nav.InlineKeyboard, 4)...)
	return b.String(), tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// splitLong breaks rows wider than n buttons.
func splitLong(rows [][]tgbotapi.InlineKeyboardButton, n int) [][]tgbotapi.InlineKeyboardButton {
	out := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, r := range rows {
		for len(r) > n {
			out = append(out, r[:n])
			r = r[n:]
		}
		out = append(out, r)
	}
	return out
}

func renderSubmitted(sel booking.Selection, apt *model.Appointment) (string, tgbotapi.InlineKeyboardMarkup) {
	var b strings.Builder
	b.WriteString("🎉 Вы записаны!\n")
	if apt != nil {
		fmt.Fprintf(&b, "Номер записи: %d\n", apt.ID)
	}
	if sel.Store != nil {
		fmt.Fprintf(&b, "Салон: %s, %s\n", sel.Store.Name, sel.Store.Address)
	}
	fmt.Fprintf(&b, "Услуги: %s\n", servicesTitle(sel.Services))
	if sel.Staff != nil {
		fmt.Fprintf(&b, "Мастер: %s\n", sel.Staff.Staff.DisplayName())
	}
	fmt.Fprintf(&b, "Когда: %s %s", keyboards.HumanDate(sel.Date), sel.Time)
	return b.String(), keyboards.Rows(nil, 1, []keyboards.Button{keyboards.ToMain})
}

func servicesTitle(types []catalog.ServiceType) string {
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, t.Title())
	}
	return strings.Join(names, " + ")
}

// ---------- Issuance ----------

var issuable = []catalog.ServiceType{catalog.Wash, catalog.Soak, catalog.Care}

func renderIssue(flow *issuance.Flow) (string, tgbotapi.InlineKeyboardMarkup) {
	d := flow.Draft()
	back := []keyboards.Button{keyboards.IssueBack}

	switch flow.Step() {
	case issuance.StepServices:
		var buttons []keyboards.Button
		for _, t := range issuable {
			buttons = append(buttons, keyboards.Button{
				Text: keyboards.Toggle(t.Title(), catalog.Contains(d.Services, t)),
				Data: keyboards.PISvc + string(t),
			})
		}
		footer := [][]keyboards.Button{}
		if len(d.Services) > 0 {
			footer = append(footer, []keyboards.Button{{Text: "Подобрать карту ➡️", Data: keyboards.CbIssueGo}})
		}
		footer = append(footer, back)
		text := fmt.Sprintf("Клиент: %s, %s\nКакие услуги нужны клиенту?", d.Name, d.Phone)
		return text, keyboards.Rows(buttons, 1, footer...)

	case issuance.StepTemplate:
		var buttons []keyboards.Button
		for _, tpl := range d.Eligible {
			chosen := d.Template != nil && d.Template.ID == tpl.ID
			buttons = append(buttons, keyboards.Button{
				Text: keyboards.Toggle(templateLabel(tpl), chosen),
				Data: keyboards.PTpl + strconv.FormatInt(tpl.ID, 10),
			})
		}
		footer := [][]keyboards.Button{}
		if d.Template != nil {
			footer = append(footer, []keyboards.Button{{Text: "✅ Оформить", Data: keyboards.CbIssueOk}})
		}
		footer = append(footer, back)
		text := fmt.Sprintf("Клиент: %s, %s\nУслуги: %s\nВыберите карту:", d.Name, d.Phone, servicesTitle(d.Services))
		return text, keyboards.Rows(buttons, 1, footer...)
	}

	return "Введите данные клиента:\n/newcard Имя 89991234567", keyboards.Rows(nil, 1, back)
}

func templateLabel(t model.CardTemplate) string {
	label := fmt.Sprintf("%s · %.0f ₽", t.Name, t.Price)
	if t.TotalUses != nil {
		label += fmt.Sprintf(" · %d раз", *t.TotalUses)
	}
	if t.ValidityDays != nil {
		label += fmt.Sprintf(" · %d дн", *t.ValidityDays)
	}
	return label
}

// ---------- Appointment lists ----------

func visitLine(b *strings.Builder, a model.AppointmentDetail, who string) {
	fmt.Fprintf(b, "#%d · %s %s", a.ID, keyboards.HumanDate(a.AppointmentDate), a.StartTime)
	if a.EndTime != "" {
		fmt.Fprintf(b, "–%s", a.EndTime)
	}
	fmt.Fprintf(b, "\n%s · %s", a.ServiceType.Title(), who)
	if a.ServiceCount > 1 {
		fmt.Fprintf(b, " · услуг: %d", a.ServiceCount)
	}
	fmt.Fprintf(b, "\nСтатус: %s\n\n", visits.StatusTitle(a.Status))
}

func renderMine(v visitList) (string, tgbotapi.InlineKeyboardMarkup) {
	footer := []keyboards.Button{keyboards.ToMain}
	if v.loading {
		return "⏳ Загружаем ваши записи…", keyboards.Rows(nil, 1, footer)
	}
	if len(v.items) == 0 {
		return "У вас пока нет записей.", keyboards.Rows(nil, 1, []keyboards.Button{{Text: "💆 Записаться", Data: keyboards.CbBook}}, footer)
	}

	var (
		b       strings.Builder
		buttons []keyboards.Button
	)
	b.WriteString("📋 Ваши записи:\n\n")
	for _, a := range v.items {
		visitLine(&b, a, a.Store.Name+", "+a.Staff.DisplayName())
		if visits.Open(a.Appointment) {
			buttons = append(buttons, keyboards.Button{Text: fmt.Sprintf("❌ Отменить #%d", a.ID), Data: keyboards.PCancel + strconv.FormatInt(a.ID, 10)})
		}
	}
	return strings.TrimRight(b.String(), "\n"), keyboards.Rows(buttons, 2, footer)
}

func (h *Handler) renderVisits(v visitList) (string, tgbotapi.InlineKeyboardMarkup) {
	if v.redeem != nil {
		return renderRedeem(v)
	}

	dates := visits.Dates(h.now(), h.loc, visitDaysBefore, visitDaysAfter)
	dateRows := keyboards.Rows(keyboards.VisitDateButtons(dates, v.date), 4)
	footer := keyboards.Rows(nil, 1, []keyboards.Button{keyboards.ToMain})

	var (
		b       strings.Builder
		buttons []keyboards.Button
	)
	fmt.Fprintf(&b, "🗓 Записи на %s\n\n", keyboards.HumanDate(v.date))
	switch {
	case v.loading:
		b.WriteString("⏳ Загружаем…")
	case len(v.items) == 0:
		b.WriteString("Записей нет.")
	default:
		for _, a := range v.items {
			visitLine(&b, a, a.Customer.DisplayName())
			if visits.Open(a.Appointment) {
				buttons = append(buttons, keyboards.Button{Text: fmt.Sprintf("✅ Провести #%d", a.ID), Data: keyboards.PDone + strconv.FormatInt(a.ID, 10)})
			}
		}
	}

	rows := append(dateRows.InlineKeyboard, keyboards.Rows(buttons, 2).InlineKeyboard...)
	rows = append(rows, footer.InlineKeyboard...)
	return strings.TrimRight(b.String(), "\n"), tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func renderRedeem(v visitList) (string, tgbotapi.InlineKeyboardMarkup) {
	a := v.redeem
	var b strings.Builder
	fmt.Fprintf(&b, "Провести запись #%d\nКлиент: %s\n%s %s · %s\n\n", a.ID, a.Customer.DisplayName(), keyboards.HumanDate(a.AppointmentDate), a.StartTime, a.ServiceType.Title())

	footer := []keyboards.Button{keyboards.VisitBack}
	switch {
	case v.cardsLoading:
		b.WriteString("⏳ Загружаем карты клиента…")
		return b.String(), keyboards.Rows(nil, 1, footer)
	case len(v.cards) == 0:
		b.WriteString("У клиента нет действующих карт.")
		return b.String(), keyboards.Rows(nil, 1, footer)
	}
	b.WriteString("Выберите карту для списания:")
	buttons := make([]keyboards.Button, 0, len(v.cards))
	for _, c := range v.cards {
		buttons = append(buttons, keyboards.Button{Text: cardLabel(c, false), Data: keyboards.PRedeem + strconv.FormatInt(c.ID, 10)})
	}
	return b.String(), keyboards.Rows(buttons, 1, footer)
}
