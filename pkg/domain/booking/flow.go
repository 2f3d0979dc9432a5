// Package booking drives the appointment flow: store, membership, services,
// staff and time, then submission.
package booking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/napryag/salon_bot/pkg/domain/cards"
	"github.com/napryag/salon_bot/pkg/domain/catalog"
	"github.com/napryag/salon_bot/pkg/repository/model"
	"github.com/napryag/salon_bot/pkg/utils/errs"
)

// ---------- FSM ----------

type Step int

const (
	StepSelectStore Step = iota + 1
	StepSelectMembership
	StepSelectServices
	StepSelectTime
	StepSubmitted
)

func (s Step) String() string {
	switch s {
	case StepSelectStore:
		return "select_store"
	case StepSelectMembership:
		return "select_membership"
	case StepSelectServices:
		return "select_services"
	case StepSelectTime:
		return "select_time"
	case StepSubmitted:
		return "submitted"
	}
	return "unknown"
}

type Membership int

const (
	MembershipUnknown Membership = iota
	MembershipMember
	MembershipGuest
)

var (
	ErrWrongStep         = errors.New("transition not allowed in current step")
	ErrNoStore           = errors.New("no store chosen")
	ErrNoMembership      = errors.New("membership mode not chosen")
	ErrCardsNotLoaded    = errors.New("cards not loaded")
	ErrUnknownCard       = errors.New("unknown card")
	ErrNoCard            = errors.New("no card selected")
	ErrServiceNotAllowed = errors.New("service not allowed")
	ErrNoService         = errors.New("select at least one service")
	ErrBadDate           = errors.New("malformed date")
	ErrNoDate            = errors.New("no date selected")
	ErrNoStaff           = errors.New("no staff available")
	ErrUnknownStaff      = errors.New("unknown staff")
	ErrNoStaffSelected   = errors.New("no staff selected")
	ErrUnknownTime       = errors.New("time not offered")
	ErrIncomplete        = errors.New("incomplete selection")
	ErrSubmitting        = errors.New("submission in progress")
	ErrStale             = errors.New("stale response")
)

// Fetcher is the data-fetch side the flow uses.
type Fetcher interface {
	StaffFetcher
	MyCards(ctx context.Context) ([]model.OwnedCard, error)
}

// Submitter is the command side the flow uses.
type Submitter interface {
	CreateAppointment(ctx context.Context, cmd model.AppointmentCommand) (*model.Appointment, error)
}

// Selection is everything the customer picked so far.
type Selection struct {
	Store              *model.Store
	Membership         Membership
	Cards              []cards.Card
	CardsLoaded        bool
	Card               *cards.Card
	Services           []catalog.ServiceType // in the order they were picked
	Date               string                // YYYY-MM-DD
	AvailableStaff     []model.StaffAvailability
	AvailabilityLoaded bool
	Staff              *model.StaffAvailability
	Time               string // HH:MM
}

func (s Selection) clone() Selection {
	out := s
	if s.Store != nil {
		st := *s.Store
		out.Store = &st
	}
	if s.Card != nil {
		c := *s.Card
		out.Card = &c
	}
	if s.Staff != nil {
		sa := *s.Staff
		out.Staff = &sa
	}
	out.Cards = append([]cards.Card(nil), s.Cards...)
	out.Services = append([]catalog.ServiceType(nil), s.Services...)
	out.AvailableStaff = append([]model.StaffAvailability(nil), s.AvailableStaff...)
	return out
}

// ServiceOption is a selectable service with its current state.
type ServiceOption struct {
	catalog.Service
	Selected bool
}

// CardsRequest is returned by ChooseMembership; Needed is false for guests.
type CardsRequest struct {
	Needed bool

	rev uint64
}

// Flow holds one customer's booking session. Transition methods are the only
// mutators. Backend responses are applied only if the selections they were
// requested for are still current.
type Flow struct {
	mu         sync.Mutex
	id         uuid.UUID
	step       Step
	sel        Selection
	cardsRev   uint64
	availRev   uint64
	submitting bool

	fetcher   Fetcher
	submitter Submitter
	timeout   time.Duration
	now       func() time.Time
	logger    zerolog.Logger
}

type Option func(*Flow)

func WithClock(now func() time.Time) Option {
	return func(f *Flow) { f.now = now }
}

// WithTimeout bounds every backend call made by the flow.
func WithTimeout(d time.Duration) Option {
	return func(f *Flow) { f.timeout = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(f *Flow) { f.logger = l }
}

const DefaultTimeout = 10 * time.Second

var validate = validator.New(validator.WithRequiredStructEnabled())

func NewFlow(fetcher Fetcher, submitter Submitter, opts ...Option) *Flow {
	f := &Flow{
		id:        uuid.New(),
		step:      StepSelectStore,
		fetcher:   fetcher,
		submitter: submitter,
		timeout:   DefaultTimeout,
		now:       time.Now,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With().Str("flow_id", f.id.String()).Logger()
	return f
}

func (f *Flow) ID() uuid.UUID { return f.id }

func (f *Flow) Step() Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step
}

// Selection returns a copy of the current selections.
func (f *Flow) Selection() Selection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sel.clone()
}

// TotalDuration is the summed length of the selected services in minutes.
func (f *Flow) TotalDuration() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return catalog.TotalDuration(f.sel.Services)
}

func (f *Flow) reject(sentinel error, msg string) error {
	f.logger.Debug().Str("step", f.step.String()).Err(sentinel).Msg("transition rejected")
	return errs.Validation(msg).Arg("step", f.step.String()).Wrap(sentinel)
}

func (f *Flow) wrongStep() error {
	return f.reject(ErrWrongStep, "Действие недоступно на этом шаге")
}

// busy rejects changes while an appointment is being submitted.
func (f *Flow) busy() error {
	if f.submitting {
		return f.reject(ErrSubmitting, "Запись уже отправляется")
	}
	return nil
}

func (f *Flow) stale(what string) error {
	f.logger.Debug().Str("response", what).Msg("stale response discarded")
	return errs.New("response discarded").Kind(errs.KindStale).Arg("response", what).Wrap(ErrStale)
}

// ---------- step 1: store ----------

// SelectStore picks a store and restarts everything downstream of it.
// Allowed from any step except Submitted.
func (f *Flow) SelectStore(store model.Store) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.busy(); err != nil {
		return err
	}
	if f.step == StepSubmitted {
		return f.wrongStep()
	}
	if store.ID == 0 {
		return f.reject(ErrNoStore, "Выберите салон")
	}

	f.sel = Selection{Store: &store}
	f.step = StepSelectMembership
	f.cardsRev++
	f.availRev++
	f.logger.Debug().Int64("store_id", store.ID).Msg("store selected")
	return nil
}

// ---------- step 2: membership ----------

// ChooseMembership moves to service selection. Members get a CardsRequest to
// pass to FetchCards; the flow does not wait for it.
func (f *Flow) ChooseMembership(m Membership) (CardsRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.busy(); err != nil {
		return CardsRequest{}, err
	}
	if f.step != StepSelectMembership {
		return CardsRequest{}, f.wrongStep()
	}
	if m != MembershipMember && m != MembershipGuest {
		return CardsRequest{}, f.reject(ErrNoMembership, "Укажите, есть ли у вас карта")
	}

	f.sel.Membership = m
	f.sel.Cards = nil
	f.sel.CardsLoaded = false
	f.sel.Card = nil
	f.sel.Services = nil
	f.step = StepSelectServices
	f.cardsRev++
	f.availRev++
	f.logger.Debug().Bool("member", m == MembershipMember).Msg("membership chosen")

	return CardsRequest{Needed: m == MembershipMember, rev: f.cardsRev}, nil
}

// FetchCards loads the customer's cards for req. A response for a request that
// is no longer current is dropped with a KindStale error.
func (f *Flow) FetchCards(ctx context.Context, req CardsRequest) error {
	if !req.Needed {
		return nil
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	owned, err := f.fetcher.MyCards(ctx)
	classified := cards.Classify(owned, f.now())

	f.mu.Lock()
	defer f.mu.Unlock()

	if req.rev != f.cardsRev {
		return f.stale("cards")
	}
	f.sel.CardsLoaded = true
	if err != nil {
		f.sel.Cards = []cards.Card{}
		f.logger.Warn().Err(err).Msg("load cards failed")
		return errs.New("load cards").Wrap(err)
	}
	f.sel.Cards = classified
	f.logger.Debug().Int("cards", len(classified)).Msg("cards loaded")
	return nil
}

// ---------- step 3: services ----------

// SelectCard picks one of the loaded cards and clears the chosen services.
func (f *Flow) SelectCard(cardID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.busy(); err != nil {
		return err
	}
	if f.step != StepSelectServices || f.sel.Membership != MembershipMember {
		return f.wrongStep()
	}
	if !f.sel.CardsLoaded {
		return f.reject(ErrCardsNotLoaded, "Карты ещё загружаются")
	}
	c, ok := cards.Find(f.sel.Cards, cardID)
	if !ok {
		return f.reject(ErrUnknownCard, "Карта не найдена")
	}
	if err := cards.CheckSelectable(c); err != nil {
		f.logger.Debug().Int64("card_id", cardID).Err(err).Msg("card rejected")
		return err
	}

	f.sel.Card = &c
	f.sel.Services = nil
	f.availRev++
	f.logger.Debug().Int64("card_id", cardID).Msg("card selected")
	return nil
}

func (f *Flow) allowedLocked() []catalog.Service {
	switch f.sel.Membership {
	case MembershipGuest:
		return catalog.GuestServices()
	case MembershipMember:
		if f.sel.Card != nil {
			return f.sel.Card.AvailableServices
		}
	}
	return nil
}

// ServiceOptions lists the services selectable right now, marking the chosen ones.
func (f *Flow) ServiceOptions() []ServiceOption {
	f.mu.Lock()
	defer f.mu.Unlock()

	allowed := f.allowedLocked()
	out := make([]ServiceOption, 0, len(allowed))
	for _, s := range allowed {
		out = append(out, ServiceOption{Service: s, Selected: catalog.Contains(f.sel.Services, s.Type)})
	}
	return out
}

// ToggleService adds or removes a service from the selection.
func (f *Flow) ToggleService(t catalog.ServiceType) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.busy(); err != nil {
		return err
	}
	if f.step != StepSelectServices {
		return f.wrongStep()
	}
	if f.sel.Membership == MembershipMember && f.sel.Card == nil {
		return f.reject(ErrNoCard, "Сначала выберите карту")
	}
	allowed := t.Basic()
	if f.sel.Membership == MembershipMember {
		allowed = f.sel.Card.Allows(t)
	}
	if !allowed {
		return f.reject(ErrServiceNotAllowed, "Эта услуга недоступна")
	}

	next := make([]catalog.ServiceType, 0, len(f.sel.Services)+1)
	removed := false
	for _, s := range f.sel.Services {
		if s == t {
			removed = true
			continue
		}
		next = append(next, s)
	}
	if !removed {
		next = append(next, t)
	}
	f.sel.Services = next
	f.availRev++
	f.logger.Debug().Str("service", string(t)).Bool("selected", !removed).Int("duration", catalog.TotalDuration(next)).Msg("service toggled")
	return nil
}

// ProceedToTime moves to staff and time selection.
func (f *Flow) ProceedToTime() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.busy(); err != nil {
		return err
	}
	if f.step != StepSelectServices {
		return f.wrongStep()
	}
	if len(f.sel.Services) == 0 {
		return f.reject(ErrNoService, "Выберите хотя бы одну услугу")
	}

	f.step = StepSelectTime
	f.availRev++
	return nil
}

// ---------- step 4: date, staff, time ----------

// SelectDate sets the date and drops staff and time chosen for the previous one.
// The returned query must be passed to FetchAvailability.
func (f *Flow) SelectDate(date string) (AvailabilityQuery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.busy(); err != nil {
		return AvailabilityQuery{}, err
	}
	if f.step != StepSelectTime {
		return AvailabilityQuery{}, f.wrongStep()
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return AvailabilityQuery{}, f.reject(ErrBadDate, "Некорректная дата")
	}

	f.sel.Date = date
	f.sel.AvailableStaff = nil
	f.sel.AvailabilityLoaded = false
	f.sel.Staff = nil
	f.sel.Time = ""
	f.availRev++
	f.logger.Debug().Str("date", date).Msg("date selected")

	return AvailabilityQuery{
		StoreID:  f.sel.Store.ID,
		Date:     date,
		Duration: catalog.TotalDuration(f.sel.Services),
		rev:      f.availRev,
	}, nil
}

// FetchAvailability runs q and applies its result if q is still current.
// On failure the available staff list becomes empty and the error is returned.
func (f *Flow) FetchAvailability(ctx context.Context, q AvailabilityQuery) error {
	staff, err := q.Run(ctx, f.fetcher, f.timeout)

	f.mu.Lock()
	defer f.mu.Unlock()

	if q.rev != f.availRev || f.step != StepSelectTime {
		return f.stale("availability")
	}
	f.sel.AvailableStaff = staff
	f.sel.AvailabilityLoaded = true
	if err != nil {
		f.logger.Warn().Err(err).Str("date", q.Date).Msg("load availability failed")
		return err
	}
	f.logger.Debug().Str("date", q.Date).Int("staff", len(staff)).Msg("availability loaded")
	return nil
}

func (f *Flow) SelectStaff(staffID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.busy(); err != nil {
		return err
	}
	if f.step != StepSelectTime {
		return f.wrongStep()
	}
	if f.sel.Date == "" {
		return f.reject(ErrNoDate, "Сначала выберите дату")
	}
	if len(f.sel.AvailableStaff) == 0 {
		return f.reject(ErrNoStaff, "На эту дату нет свободных мастеров")
	}
	for _, sa := range f.sel.AvailableStaff {
		if sa.Staff.ID == staffID {
			picked := sa
			f.sel.Staff = &picked
			f.sel.Time = ""
			f.logger.Debug().Int64("staff_id", staffID).Msg("staff selected")
			return nil
		}
	}
	return f.reject(ErrUnknownStaff, "Мастер не найден")
}

func (f *Flow) SelectTime(slot string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.busy(); err != nil {
		return err
	}
	if f.step != StepSelectTime {
		return f.wrongStep()
	}
	if f.sel.Staff == nil {
		return f.reject(ErrNoStaffSelected, "Сначала выберите мастера")
	}
	for _, t := range f.sel.Staff.AvailableTimes {
		if t == slot {
			f.sel.Time = slot
			return nil
		}
	}
	return f.reject(ErrUnknownTime, "Это время недоступно")
}

// ---------- submission ----------

// Command builds the appointment request from the current selections.
func (f *Flow) Command() (model.AppointmentCommand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commandLocked()
}

func (f *Flow) commandLocked() (model.AppointmentCommand, error) {
	if f.step != StepSelectTime {
		return model.AppointmentCommand{}, f.wrongStep()
	}
	s := f.sel
	if s.Store == nil || s.Date == "" || len(s.Services) == 0 || s.Staff == nil || s.Time == "" {
		return model.AppointmentCommand{}, f.reject(ErrIncomplete, "Заполните все шаги записи")
	}

	cmd := model.AppointmentCommand{
		StoreID:         s.Store.ID,
		StaffID:         s.Staff.Staff.ID,
		ServiceType:     primaryService(s.Services),
		AppointmentDate: s.Date,
		StartTime:       s.Time,
		ServiceCount:    len(s.Services),
	}
	if s.Membership == MembershipMember && s.Card != nil {
		id := s.Card.ID
		cmd.UserCardID = &id
	}
	if err := validate.Struct(cmd); err != nil {
		f.logger.Debug().Err(err).Msg("appointment command invalid")
		return model.AppointmentCommand{}, errs.Validation("Некорректные данные записи").Arg("details", err.Error()).Wrap(ErrIncomplete)
	}
	return cmd, nil
}

// primaryService is the booked type: the first selected service, in the
// backend's vocabulary. The rest only count towards service_count.
func primaryService(selected []catalog.ServiceType) catalog.ServiceType {
	return selected[0].SubmitType()
}

// Submit sends the appointment. A failure leaves the flow untouched at the
// time step; success makes the flow Submitted. Until the backend answers every
// other transition is rejected with ErrSubmitting.
func (f *Flow) Submit(ctx context.Context) (*model.Appointment, error) {
	f.mu.Lock()
	if f.submitting {
		f.mu.Unlock()
		return nil, errs.Validation("Запись уже отправляется").Wrap(ErrSubmitting)
	}
	cmd, err := f.commandLocked()
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	f.submitting = true
	f.mu.Unlock()

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	apt, err := f.submitter.CreateAppointment(ctx, cmd)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitting = false

	if err != nil {
		f.logger.Warn().Err(err).Msg("create appointment failed")
		return nil, errs.New("create appointment").Wrap(err)
	}
	if f.step != StepSelectTime {
		f.logger.Info().Int64("appointment_id", apt.ID).Str("step", f.step.String()).Msg("appointment created after flow moved on")
		return apt, nil
	}
	f.step = StepSubmitted
	f.cardsRev++
	f.availRev++
	f.logger.Info().Int64("appointment_id", apt.ID).Str("service_type", string(cmd.ServiceType)).Int("service_count", cmd.ServiceCount).Msg("appointment created")
	return apt, nil
}

// ---------- navigation ----------

// Back goes one step back: time → services clears date, staff and time;
// services → membership clears card and services. There is no way back to
// the store step; SelectStore restarts the flow instead.
func (f *Flow) Back() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.busy(); err != nil {
		return err
	}
	switch f.step {
	case StepSelectTime:
		f.sel.Date = ""
		f.sel.AvailableStaff = nil
		f.sel.AvailabilityLoaded = false
		f.sel.Staff = nil
		f.sel.Time = ""
		f.step = StepSelectServices
	case StepSelectServices:
		f.sel.Card = nil
		f.sel.Services = nil
		f.step = StepSelectMembership
		f.cardsRev++
	default:
		return f.wrongStep()
	}
	f.availRev++
	return nil
}

// Exit discards all selections; pending responses become stale. A submission
// in flight still completes and keeps blocking transitions until it does.
func (f *Flow) Exit() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sel = Selection{}
	f.step = StepSelectStore
	f.cardsRev++
	f.availRev++
}
