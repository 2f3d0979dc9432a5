// Package receiver turns Telegram updates into booking and card issuance steps.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/napryag/salon_bot/pkg/domain/booking"
	"github.com/napryag/salon_bot/pkg/domain/bot/receiver/keyboards"
	"github.com/napryag/salon_bot/pkg/domain/bot/sender"
	"github.com/napryag/salon_bot/pkg/domain/catalog"
	"github.com/napryag/salon_bot/pkg/domain/issuance"
	"github.com/napryag/salon_bot/pkg/domain/session"
	"github.com/napryag/salon_bot/pkg/repository/api"
	"github.com/napryag/salon_bot/pkg/repository/cache"
	"github.com/napryag/salon_bot/pkg/repository/model"
	"github.com/napryag/salon_bot/pkg/utils/errs"
)

// Messenger is the part of tgbotapi.BotAPI the handler uses.
type Messenger interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Client is one user's view of the backend.
type Client interface {
	model.DataFetcher
	model.CommandSubmitter
}

// Backend logs users in and hands out per-user clients.
type Backend interface {
	Login(ctx context.Context, req model.LoginRequest) (*model.LoginResult, error)
	Client(creds api.Credentials) Client
	// RefreshCatalog forgets cached stores and card types.
	RefreshCatalog(ctx context.Context) error
}

// Notifier announces new bookings to staff.
type Notifier interface {
	NotifyAppointment(ctx context.Context, n sender.Notice) error
}

type backend struct {
	transport *api.Transport
	catalog   *cache.Catalog
}

type client struct {
	model.DataFetcher
	model.CommandSubmitter
}

// NewBackend serves reads of the shared catalog through c when it is set.
func NewBackend(t *api.Transport, c *cache.Catalog) Backend {
	return backend{transport: t, catalog: c}
}

func (b backend) Login(ctx context.Context, req model.LoginRequest) (*model.LoginResult, error) {
	return b.transport.Login(ctx, req)
}

func (b backend) Client(creds api.Credentials) Client {
	c := b.transport.Client(creds)
	var f model.DataFetcher = c
	if b.catalog != nil {
		f = b.catalog.Wrap(c)
	}
	return client{DataFetcher: f, CommandSubmitter: c}
}

func (b backend) RefreshCatalog(ctx context.Context) error {
	if b.catalog == nil {
		return nil
	}
	return b.catalog.Invalidate(ctx)
}

type Options struct {
	Backend     Backend
	Creds       model.CredentialRepo
	Notifier    Notifier // optional
	Location    *time.Location
	BookingDays int
	Timeout     time.Duration
	Logger      zerolog.Logger
}

type Handler struct {
	bot     Messenger
	backend Backend
	creds   model.CredentialRepo
	notify  Notifier
	loc     *time.Location
	days    int
	timeout time.Duration
	logger  zerolog.Logger

	store       *Store
	now         func() time.Time
	async       func(func())
	remindAfter time.Duration
}

func NewHandler(bot Messenger, o Options) *Handler {
	h := &Handler{
		bot:     bot,
		backend: o.Backend,
		creds:   o.Creds,
		notify:  o.Notifier,
		loc:     o.Location,
		days:    o.BookingDays,
		timeout: o.Timeout,
		logger:  o.Logger,
		now:     time.Now,
		async:   func(fn func()) { go fn() },

		remindAfter: 5 * time.Second,
	}
	if h.loc == nil {
		h.loc = time.Local
	}
	if h.days <= 0 {
		h.days = 7
	}
	if h.timeout <= 0 {
		h.timeout = booking.DefaultTimeout
	}
	h.store = NewStore(h.newSession)
	return h
}

func (h *Handler) Store() *Store { return h.store }

func (h *Handler) newSession(userID int64) *Session {
	auth := session.New()
	c := h.backend.Client(auth)
	logger := h.logger.With().Int64("user_id", userID).Logger()

	sess := &Session{
		UserID:  userID,
		Auth:    auth,
		Booking: booking.NewFlow(c, c, booking.WithTimeout(h.timeout), booking.WithLogger(logger), booking.WithClock(h.now)),
		Issue:   issuance.NewFlow(c, c, h.timeout, logger),
		client:  c,
	}
	auth.OnInvalidate(func() {
		logger.Info().Msg("credentials rejected, session reset")
		sess.reset()
		sess.Notify(errs.UserMessage(errs.New("").Kind(errs.KindUnauthorized)))
		h.renderPanel(sess)
		h.async(func() {
			ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
			defer cancel()
			if err := h.creds.DeleteCredentials(ctx, userID); err != nil {
				logger.Warn().Err(err).Msg("drop credentials")
			}
		})
	})
	return sess
}

// session returns the user's session, restoring saved credentials once.
func (h *Handler) session(ctx context.Context, from *tgbotapi.User) *Session {
	sess := h.store.Get(from.ID)

	sess.mu.Lock()
	restore := !sess.restored
	sess.restored = true
	sess.name = displayName(from)
	sess.mu.Unlock()

	if restore {
		c, err := h.creds.LoadCredentials(ctx, from.ID)
		switch {
		case err != nil:
			h.logger.Warn().Err(err).Int64("user_id", from.ID).Msg("load credentials")
		case c != nil:
			if err := sess.Auth.Init(c.Token, c.User); err != nil {
				h.logger.Warn().Err(err).Int64("user_id", from.ID).Msg("restore credentials")
			}
		}
	}
	return sess
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" {
		name = u.UserName
	}
	if name == "" {
		name = "Гость"
	}
	return name
}

// Handle processes one update.
func (h *Handler) Handle(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil && update.Message.From != nil:
		h.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		h.handleCallback(ctx, update.CallbackQuery)
	}
}

// ---------- Messages ----------

func (h *Handler) handleMessage(ctx context.Context, m *tgbotapi.Message) {
	sess := h.session(ctx, m.From)
	sess.clearNotice()

	switch {
	case m.IsCommand():
		switch m.Command() {
		case "start":
			h.handleStart(ctx, sess, m)
		case "staff":
			h.deleteMessage(m.Chat.ID, m.MessageID) // carries the password
			h.handleStaffLogin(ctx, sess, m)
		case "newcard":
			h.handleNewCard(sess, m)
		case "addcard":
			h.handleAddCard(ctx, sess, m)
		case "finduser":
			h.handleFindUser(ctx, sess, m)
		case "appointments":
			if !h.requireLogin(sess, m.Chat.ID) {
				return
			}
			h.openMine(sess)
			h.sendPanel(sess, m.Chat.ID)
		case "visits":
			if !h.requireLogin(sess, m.Chat.ID) {
				return
			}
			if err := h.openStaffDay(sess, ""); err != nil {
				h.sendText(m.Chat.ID, errs.UserMessage(err))
				return
			}
			h.sendPanel(sess, m.Chat.ID)
		case "refresh":
			h.handleRefresh(ctx, sess, m)
		case "logout":
			h.handleLogout(ctx, sess, m)
		default:
			h.remind(m)
		}
	case m.Location != nil:
		if !h.requireLogin(sess, m.Chat.ID) {
			return
		}
		sess.Booking.Exit()
		sess.setScreen(ScreenBooking)
		h.loadStores(sess, &model.Coordinates{Latitude: m.Location.Latitude, Longitude: m.Location.Longitude})
		h.sendPanel(sess, m.Chat.ID)
	default:
		h.remind(m)
	}
}

func (h *Handler) handleStart(ctx context.Context, sess *Session, m *tgbotapi.Message) {
	h.deleteMessage(m.Chat.ID, m.MessageID)
	sess.reset()

	if _, ok := sess.Auth.Token(); !ok {
		if err := h.login(ctx, sess, model.LoginRequest{Name: sess.displayName(), Role: model.RoleCustomer}); err != nil {
			h.logger.Warn().Err(err).Int64("user_id", sess.UserID).Msg("customer login")
			h.sendText(m.Chat.ID, errs.UserMessage(err))
			return
		}
	}
	h.sendPanel(sess, m.Chat.ID)
}

func (h *Handler) handleStaffLogin(ctx context.Context, sess *Session, m *tgbotapi.Message) {
	password := strings.TrimSpace(m.CommandArguments())
	if password == "" {
		h.sendText(m.Chat.ID, "Использование: /staff <пароль>")
		return
	}
	sess.reset()
	req := model.LoginRequest{Name: sess.displayName(), Role: model.RoleStaff, StaffPassword: password}
	if err := h.login(ctx, sess, req); err != nil {
		h.logger.Warn().Err(err).Int64("user_id", sess.UserID).Msg("staff login")
		h.sendText(m.Chat.ID, errs.UserMessage(err))
		return
	}
	if !sess.Auth.IsStaff() {
		h.sendText(m.Chat.ID, "Вход выполнен, но у учётной записи нет прав сотрудника")
	}
	h.sendPanel(sess, m.Chat.ID)
}

// handleNewCard takes "/newcard Имя Фамилия 89991234567": the last word is the phone.
func (h *Handler) handleNewCard(sess *Session, m *tgbotapi.Message) {
	if !h.requireLogin(sess, m.Chat.ID) {
		return
	}
	if !sess.Auth.IsStaff() {
		h.sendText(m.Chat.ID, "Команда доступна только сотрудникам")
		return
	}
	fields := strings.Fields(m.CommandArguments())
	if len(fields) < 2 {
		h.sendText(m.Chat.ID, "Использование: /newcard Имя 89991234567")
		return
	}
	name := strings.Join(fields[:len(fields)-1], " ")
	phone := fields[len(fields)-1]

	sess.Issue.Reset()
	sess.setScreen(ScreenIssue)
	if err := sess.Issue.SetCustomer(name, phone); err != nil {
		sess.Notify(errs.UserMessage(err))
	}
	h.sendPanel(sess, m.Chat.ID)
}

// handleAddCard takes "/addcard <user_id> <card_type_id>" for an existing customer.
func (h *Handler) handleAddCard(ctx context.Context, sess *Session, m *tgbotapi.Message) {
	if !h.requireLogin(sess, m.Chat.ID) {
		return
	}
	if !sess.Auth.IsStaff() {
		h.sendText(m.Chat.ID, "Команда доступна только сотрудникам")
		return
	}
	fields := strings.Fields(m.CommandArguments())
	usage := "Использование: /addcard <id клиента> <id типа карты>"
	if len(fields) != 2 {
		h.sendText(m.Chat.ID, usage)
		return
	}
	userID, err1 := strconv.ParseInt(fields[0], 10, 64)
	typeID, err2 := strconv.ParseInt(fields[1], 10, 64)
	if err1 != nil || err2 != nil {
		h.sendText(m.Chat.ID, usage)
		return
	}

	templates, err := sess.client.CardTemplates(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Int64("user_id", sess.UserID).Msg("load card templates")
		h.sendText(m.Chat.ID, errs.UserMessage(err))
		return
	}
	for _, tpl := range templates {
		if tpl.ID != typeID || !tpl.IsActive {
			continue
		}
		card, err := issuance.AddCard(ctx, sess.client, userID, tpl)
		if err != nil {
			h.logger.Warn().Err(err).Int64("user_id", sess.UserID).Msg("add card")
			h.sendText(m.Chat.ID, errs.UserMessage(err))
			return
		}
		h.sendText(m.Chat.ID, fmt.Sprintf("🎫 Карта «%s» добавлена клиенту #%d, номер %d", tpl.Name, userID, card.ID))
		return
	}
	h.sendText(m.Chat.ID, "Тип карты не найден")
}

// handleRefresh drops the cached catalog so edits on the backend show up at once.
func (h *Handler) handleRefresh(ctx context.Context, sess *Session, m *tgbotapi.Message) {
	if !h.requireLogin(sess, m.Chat.ID) {
		return
	}
	if !sess.Auth.IsStaff() {
		h.sendText(m.Chat.ID, "Команда доступна только сотрудникам")
		return
	}
	if err := h.backend.RefreshCatalog(ctx); err != nil {
		h.logger.Warn().Err(err).Int64("user_id", sess.UserID).Msg("refresh catalog")
		h.sendText(m.Chat.ID, errs.UserMessage(err))
		return
	}
	h.logger.Info().Int64("user_id", sess.UserID).Msg("catalog cache dropped")
	h.sendText(m.Chat.ID, "🔄 Салоны и типы карт будут загружены заново")
}

func (h *Handler) handleLogout(ctx context.Context, sess *Session, m *tgbotapi.Message) {
	sess.reset()
	sess.Auth.Teardown()
	if err := h.creds.DeleteCredentials(ctx, sess.UserID); err != nil {
		h.logger.Warn().Err(err).Int64("user_id", sess.UserID).Msg("drop credentials")
	}
	h.sendText(m.Chat.ID, "Вы вышли. Нажмите /start, чтобы войти снова.")
}

func (h *Handler) login(ctx context.Context, sess *Session, req model.LoginRequest) error {
	res, err := h.backend.Login(ctx, req)
	if err != nil {
		return err
	}
	if err := sess.Auth.Init(res.AccessToken, res.User); err != nil {
		return err
	}
	c := model.Credentials{TgUserID: sess.UserID, Token: res.AccessToken, User: res.User, UpdatedAt: h.now()}
	if err := h.creds.SaveCredentials(ctx, c); err != nil {
		// the session still works until restart
		h.logger.Warn().Err(err).Int64("user_id", sess.UserID).Msg("save credentials")
	}
	h.logger.Info().Int64("user_id", sess.UserID).Str("role", res.User.Role).Time("expires_at", sess.Auth.ExpiresAt()).Msg("logged in")
	return nil
}

func (s *Session) displayName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (h *Handler) requireLogin(sess *Session, chatID int64) bool {
	if _, ok := sess.Auth.Token(); ok {
		return true
	}
	h.sendText(chatID, errs.UserMessage(errs.New("").Kind(errs.KindUnauthorized)))
	return false
}

// Любой произвольный текст удаляем и напоминаем про кнопки.
func (h *Handler) remind(m *tgbotapi.Message) {
	h.deleteMessage(m.Chat.ID, m.MessageID)
	sent, err := h.bot.Send(tgbotapi.NewMessage(m.Chat.ID, "Пожалуйста, используйте кнопки 👆"))
	if err != nil {
		h.logger.Debug().Err(err).Msg("send reminder")
		return
	}
	h.async(func() {
		time.Sleep(h.remindAfter)
		h.deleteMessage(m.Chat.ID, sent.MessageID)
	})
}

// ---------- Callbacks ----------

func (h *Handler) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.From == nil || cq.Message == nil {
		h.answer(cq, "")
		return
	}
	sess := h.session(ctx, cq.From)
	sess.setPanel(cq.Message.Chat.ID, cq.Message.MessageID)
	sess.clearNotice()

	if _, ok := sess.Auth.Token(); !ok {
		h.answer(cq, errs.UserMessage(errs.New("").Kind(errs.KindUnauthorized)))
		return
	}

	if err := h.dispatch(sess, cq.Data); err != nil {
		h.answer(cq, h.describe(sess, err))
	} else {
		h.answer(cq, "")
	}
	h.renderPanel(sess)
}

func (h *Handler) dispatch(sess *Session, data string) error {
	switch {
	case data == keyboards.CbMain:
		sess.reset()
		return nil

	case data == keyboards.CbBook, data == keyboards.CbStores:
		sess.Booking.Exit()
		sess.setScreen(ScreenBooking)
		h.loadStores(sess, nil)
		return nil

	case strings.HasPrefix(data, keyboards.PStore):
		id, _ := keyboards.ID(data, keyboards.PStore)
		st, ok := sess.findStore(id)
		if !ok {
			return errs.Validation("Салон не найден").Arg("store_id", id)
		}
		return sess.Booking.SelectStore(st)

	case strings.HasPrefix(data, keyboards.PMember):
		v, _ := keyboards.Is(data, keyboards.PMember)
		m := booking.MembershipGuest
		if v == keyboards.MemberValue {
			m = booking.MembershipMember
		}
		req, err := sess.Booking.ChooseMembership(m)
		if err != nil {
			return err
		}
		h.fetchCards(sess, req)
		return nil

	case strings.HasPrefix(data, keyboards.PCard):
		id, _ := keyboards.ID(data, keyboards.PCard)
		return sess.Booking.SelectCard(id)

	case strings.HasPrefix(data, keyboards.PSvc):
		v, _ := keyboards.Is(data, keyboards.PSvc)
		if !catalog.ServiceType(v).Bookable() {
			return errs.Validation("Кнопка устарела, нажмите /start").Arg("data", data)
		}
		return sess.Booking.ToggleService(catalog.ServiceType(v))

	case data == keyboards.CbNext:
		return sess.Booking.ProceedToTime()

	case strings.HasPrefix(data, keyboards.PD):
		v, _ := keyboards.Is(data, keyboards.PD)
		q, err := sess.Booking.SelectDate(v)
		if err != nil {
			return err
		}
		h.fetchAvailability(sess, q)
		return nil

	case strings.HasPrefix(data, keyboards.PStaff):
		id, _ := keyboards.ID(data, keyboards.PStaff)
		return sess.Booking.SelectStaff(id)

	case strings.HasPrefix(data, keyboards.PT):
		v, _ := keyboards.Is(data, keyboards.PT)
		return sess.Booking.SelectTime(v)

	case data == keyboards.CbOk:
		h.submitBooking(sess)
		return nil

	case data == keyboards.CbRetry:
		return h.retry(sess)

	case data == keyboards.CbBack:
		return h.back(sess)

	case data == keyboards.CbIssue:
		if !sess.Auth.IsStaff() {
			return errs.Validation("Доступно только сотрудникам")
		}
		sess.Issue.Reset()
		sess.setScreen(ScreenIssue)
		return nil

	case strings.HasPrefix(data, keyboards.PISvc):
		v, _ := keyboards.Is(data, keyboards.PISvc)
		return sess.Issue.ToggleService(catalog.ServiceType(v))

	case data == keyboards.CbIssueGo:
		h.confirmIssueServices(sess)
		return nil

	case strings.HasPrefix(data, keyboards.PTpl):
		id, _ := keyboards.ID(data, keyboards.PTpl)
		return sess.Issue.SelectTemplate(id)

	case data == keyboards.CbIssueOk:
		h.submitIssue(sess)
		return nil

	case data == keyboards.CbMine:
		h.openMine(sess)
		return nil

	case data == keyboards.CbVisits:
		return h.openStaffDay(sess, "")

	case strings.HasPrefix(data, keyboards.PVDate):
		v, _ := keyboards.Is(data, keyboards.PVDate)
		return h.openStaffDay(sess, v)

	case strings.HasPrefix(data, keyboards.PCancel):
		id, _ := keyboards.ID(data, keyboards.PCancel)
		return h.cancelVisit(sess, id)

	case strings.HasPrefix(data, keyboards.PDone):
		if !sess.Auth.IsStaff() {
			return errs.Validation("Доступно только сотрудникам")
		}
		id, _ := keyboards.ID(data, keyboards.PDone)
		return h.startRedeem(sess, id)

	case strings.HasPrefix(data, keyboards.PRedeem):
		if !sess.Auth.IsStaff() {
			return errs.Validation("Доступно только сотрудникам")
		}
		id, _ := keyboards.ID(data, keyboards.PRedeem)
		return h.redeem(sess, id)

	case data == keyboards.CbVBack:
		h.visitsBack(sess)
		return nil

	case data == keyboards.CbIssueBk:
		if sess.Issue.Step() == issuance.StepCustomer {
			sess.reset()
			return nil
		}
		return sess.Issue.Back()
	}
	return errs.Validation("Кнопка устарела, нажмите /start").Arg("data", data)
}

func (h *Handler) back(sess *Session) error {
	switch sess.Booking.Step() {
	case booking.StepSelectStore:
		sess.reset()
		return nil
	case booking.StepSelectMembership:
		sess.Booking.Exit()
		h.loadStores(sess, nil)
		return nil
	}
	return sess.Booking.Back()
}

// retry repeats the last failed load of the current step.
func (h *Handler) retry(sess *Session) error {
	switch sess.Booking.Step() {
	case booking.StepSelectStore:
		h.loadStores(sess, nil)
		return nil
	case booking.StepSelectServices:
		if sess.Booking.Selection().Membership != booking.MembershipMember {
			return nil
		}
		if err := sess.Booking.Back(); err != nil {
			return err
		}
		req, err := sess.Booking.ChooseMembership(booking.MembershipMember)
		if err != nil {
			return err
		}
		h.fetchCards(sess, req)
		return nil
	case booking.StepSelectTime:
		date := sess.Booking.Selection().Date
		if date == "" {
			return nil
		}
		q, err := sess.Booking.SelectDate(date)
		if err != nil {
			return err
		}
		h.fetchAvailability(sess, q)
		return nil
	}
	return nil
}

// describe turns an error into the callback answer; stale results stay silent.
func (h *Handler) describe(sess *Session, err error) string {
	if errs.Is(err, errs.KindStale) || errors.Is(err, booking.ErrStale) {
		h.logger.Debug().Err(err).Int64("user_id", sess.UserID).Msg("stale result dropped")
		return ""
	}
	if !errs.Is(err, errs.KindValidation) {
		h.logger.Warn().Err(err).Int64("user_id", sess.UserID).Msg("action failed")
	}
	return errs.UserMessage(err)
}

// ---------- Backend calls ----------

// loadStores refreshes the store list; a response overtaken by a newer load
// or a reset is dropped.
func (h *Handler) loadStores(sess *Session, at *model.Coordinates) {
	rev := sess.beginStores()
	h.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()

		stores, err := sess.client.ListStores(ctx, at)
		if !sess.applyStores(rev, stores) {
			h.logger.Debug().Int64("user_id", sess.UserID).Bool("located", at != nil).Msg("stale store list dropped")
			return
		}
		if err != nil {
			sess.Notify(h.describe(sess, err))
		}
		h.renderPanel(sess)
	})
}

func (h *Handler) fetchCards(sess *Session, req booking.CardsRequest) {
	if !req.Needed {
		return
	}
	h.async(func() {
		if err := sess.Booking.FetchCards(context.Background(), req); err != nil {
			if msg := h.describe(sess, err); msg != "" {
				sess.Notify(msg)
			} else {
				return
			}
		}
		h.renderPanel(sess)
	})
}

func (h *Handler) fetchAvailability(sess *Session, q booking.AvailabilityQuery) {
	h.async(func() {
		if err := sess.Booking.FetchAvailability(context.Background(), q); err != nil {
			if msg := h.describe(sess, err); msg != "" {
				sess.Notify(msg)
			} else {
				return
			}
		}
		h.renderPanel(sess)
	})
}

func (h *Handler) submitBooking(sess *Session) {
	sel := sess.Booking.Selection()
	h.async(func() {
		apt, err := sess.Booking.Submit(context.Background())
		if err != nil {
			sess.Notify(h.describe(sess, err))
			h.renderPanel(sess)
			return
		}
		sess.setAppointment(apt)
		h.renderPanel(sess)
		h.announce(sess, sel, apt)
	})
}

func (h *Handler) announce(sess *Session, sel booking.Selection, apt *model.Appointment) {
	if h.notify == nil || sel.Store == nil || sel.Staff == nil {
		return
	}
	n := sender.Notice{
		Customer:    sess.displayName(),
		Store:       sel.Store.Name,
		Staff:       sel.Staff.Staff.DisplayName(),
		Date:        sel.Date,
		Time:        sel.Time,
		Services:    sel.Services,
		Appointment: apt,
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := h.notify.NotifyAppointment(ctx, n); err != nil {
		h.logger.Error().Err(err).Int64("appointment_id", apt.ID).Msg("notify staff channel")
	}
}

func (h *Handler) confirmIssueServices(sess *Session) {
	h.async(func() {
		if _, err := sess.Issue.ConfirmServices(context.Background()); err != nil {
			sess.Notify(h.describe(sess, err))
		}
		h.renderPanel(sess)
	})
}

func (h *Handler) submitIssue(sess *Session) {
	h.async(func() {
		card, err := sess.Issue.Submit(context.Background())
		if err != nil {
			sess.Notify(h.describe(sess, err))
		} else {
			sess.Notify("🎫 Карта оформлена, номер " + strconv.FormatInt(card.ID, 10))
		}
		h.renderPanel(sess)
	})
}

// ---------- Telegram I/O ----------

func (h *Handler) answer(cq *tgbotapi.CallbackQuery, text string) {
	// Гасим "часики"
	if _, err := h.bot.Request(tgbotapi.NewCallback(cq.ID, text)); err != nil {
		h.logger.Debug().Err(err).Msg("answer callback")
	}
}

func (h *Handler) deleteMessage(chatID int64, msgID int) {
	if _, err := h.bot.Request(tgbotapi.NewDeleteMessage(chatID, msgID)); err != nil {
		h.logger.Debug().Err(err).Msg("delete message")
	}
}

func (h *Handler) sendText(chatID int64, text string) {
	if _, err := h.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		h.logger.Warn().Err(err).Msg("send message")
	}
}

// sendPanel posts a fresh panel message and makes it the one to edit.
func (h *Handler) sendPanel(sess *Session, chatID int64) {
	text, kb := h.render(sess)
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = kb
	sent, err := h.bot.Send(msg)
	if err != nil {
		h.logger.Warn().Err(err).Msg("send panel")
		return
	}
	sess.setPanel(chatID, sent.MessageID)
}

// renderPanel edits the panel in place.
func (h *Handler) renderPanel(sess *Session) {
	chatID, msgID := sess.panel()
	if msgID == 0 {
		return
	}
	text, kb := h.render(sess)
	if _, err := h.bot.Send(tgbotapi.NewEditMessageTextAndMarkup(chatID, msgID, text, kb)); err != nil {
		// "message is not modified" when nothing changed
		h.logger.Debug().Err(err).Msg("edit panel")
	}
}
