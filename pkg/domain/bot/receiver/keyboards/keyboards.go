// Package keyboards builds the inline keyboards and owns the callback data format.
package keyboards

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ---------- Callback keys ----------

const (
	CbMain    = "main"
	CbBook    = "book"
	CbIssue   = "issue"
	CbStores  = "stores"
	CbBack    = "back"
	CbNext    = "next"
	CbRetry   = "retry"
	CbOk      = "confirm"
	CbIssueOk = "iconfirm"
	CbIssueGo = "inext"
	CbIssueBk = "iback"
	CbMine    = "mine"
	CbVisits  = "visits"
	CbVBack   = "vback"

	PStore  = "st:"   // st:12
	PMember = "mb:"   // mb:member | mb:guest
	PCard   = "c:"    // c:42
	PSvc    = "svc:"  // svc:wash
	PD      = "d:"    // d:2025-08-20
	PStaff  = "sf:"   // sf:5
	PT      = "t:"    // t:10:30
	PISvc   = "isvc:" // isvc:care
	PTpl    = "tpl:"  // tpl:3
	PCancel = "x:"    // x:31
	PVDate  = "vd:"   // vd:2025-08-20
	PDone   = "done:" // done:31
	PRedeem = "rd:"   // rd:42

	MemberValue = "member"
	GuestValue  = "guest"
)

func Is(k, prefix string) (string, bool) {
	if strings.HasPrefix(k, prefix) {
		return strings.TrimPrefix(k, prefix), true
	}
	return "", false
}

// ID parses the numeric suffix of k.
func ID(k, prefix string) (int64, bool) {
	v, ok := Is(k, prefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(v, 10, 64)
	return id, err == nil
}

// Button is a label with its callback data.
type Button struct {
	Text string
	Data string
}

func btn(b Button) tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data)
}

// Rows lays buttons out perRow per row and appends the footer rows.
func Rows(buttons []Button, perRow int, footer ...[]Button) tgbotapi.InlineKeyboardMarkup {
	if perRow <= 0 {
		perRow = 1
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons)/perRow+len(footer)+1)
	for i := 0; i < len(buttons); i += perRow {
		end := i + perRow
		if end > len(buttons) {
			end = len(buttons)
		}
		row := make([]tgbotapi.InlineKeyboardButton, 0, end-i)
		for _, b := range buttons[i:end] {
			row = append(row, btn(b))
		}
		rows = append(rows, row)
	}
	for _, f := range footer {
		if len(f) == 0 {
			continue
		}
		row := make([]tgbotapi.InlineKeyboardButton, 0, len(f))
		for _, b := range f {
			row = append(row, btn(b))
		}
		rows = append(rows, row)
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// ---------- UI builders ----------

var (
	Back      = Button{"⬅️ Назад", CbBack}
	ToMain    = Button{"🏠 Меню", CbMain}
	ToStores  = Button{"🏪 Другой салон", CbStores}
	Retry     = Button{"🔄 Повторить", CbRetry}
	IssueBack = Button{"⬅️ Назад", CbIssueBk}
	VisitBack = Button{"⬅️ Назад", CbVBack}
)

func MainMenu(staff bool) tgbotapi.InlineKeyboardMarkup {
	buttons := []Button{{"💆 Записаться", CbBook}, {"📋 Мои записи", CbMine}}
	if staff {
		buttons = append(buttons, Button{"🗓 Записи ко мне", CbVisits}, Button{"🎫 Оформить карту", CbIssue})
	}
	return Rows(buttons, 1)
}

func MembershipMenu() tgbotapi.InlineKeyboardMarkup {
	return Rows([]Button{
		{"💳 У меня есть карта", PMember + MemberValue},
		{"🙋 Записаться без карты", PMember + GuestValue},
	}, 1, []Button{ToStores})
}

// DateButtons labels each YYYY-MM-DD date as "02.01 Пн", marking the chosen one.
func DateButtons(dates []string, chosen string) []Button {
	return dateButtons(PD, dates, chosen)
}

// VisitDateButtons is the staff day picker.
func VisitDateButtons(dates []string, chosen string) []Button {
	return dateButtons(PVDate, dates, chosen)
}

func dateButtons(prefix string, dates []string, chosen string) []Button {
	out := make([]Button, 0, len(dates))
	for _, d := range dates {
		label := HumanDate(d)
		if d == chosen {
			label = "• " + label
		}
		out = append(out, Button{label, prefix + d})
	}
	return out
}

func TimeButtons(slots []string, chosen string) []Button {
	out := make([]Button, 0, len(slots))
	for _, t := range slots {
		label := t
		if t == chosen {
			label = "✅ " + t
		}
		out = append(out, Button{label, PT + t})
	}
	return out
}

// Toggle marks a selectable option.
func Toggle(label string, on bool) string {
	if on {
		return "✅ " + label
	}
	return "▫️ " + label
}

var weekdays = [...]string{"Вс", "Пн", "Вт", "Ср", "Чт", "Пт", "Сб"}

func HumanDate(iso string) string {
	t, err := time.Parse("2006-01-02", iso)
	if err != nil {
		return iso
	}
	return fmt.Sprintf("%s %s", t.Format("02.01"), weekdays[t.Weekday()])
}

// Distance formats meters for a store button.
func Distance(m float64) string {
	if m < 1000 {
		return fmt.Sprintf("%d м", int(m+0.5))
	}
	return fmt.Sprintf("%.1f км", m/1000)
}
