// Package issuance is the staff flow for issuing a first card to a new customer.
package issuance

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/napryag/salon_bot/pkg/domain/catalog"
	"github.com/napryag/salon_bot/pkg/domain/eligibility"
	"github.com/napryag/salon_bot/pkg/repository/model"
	"github.com/napryag/salon_bot/pkg/utils/errs"
)

type Step int

const (
	StepCustomer Step = iota + 1
	StepServices
	StepTemplate
)

func (s Step) String() string {
	switch s {
	case StepCustomer:
		return "customer"
	case StepServices:
		return "services"
	case StepTemplate:
		return "template"
	}
	return "unknown"
}

var (
	ErrWrongStep       = errors.New("transition not allowed in current step")
	ErrNoName          = errors.New("customer name is empty")
	ErrBadPhone        = errors.New("phone must have 11 digits")
	ErrBadService      = errors.New("service cannot be issued")
	ErrNoService       = errors.New("select a service type")
	ErrNoEligible      = errors.New("no eligible card")
	ErrUnknownTemplate = errors.New("template not offered")
	ErrSubmitting      = errors.New("submission in progress")
	ErrStale           = errors.New("stale response")
)

// TemplateSource yields the card catalog.
type TemplateSource interface {
	CardTemplates(ctx context.Context) ([]model.CardTemplate, error)
}

// Submitter issues cards on the backend.
type Submitter interface {
	AddCard(ctx context.Context, cmd model.AddCardCommand) (*model.IssuedCard, error)
	NewCustomerCard(ctx context.Context, cmd model.NewCustomerCardCommand) (*model.IssuedCard, error)
}

// Draft is what the staff member entered so far.
type Draft struct {
	Name     string
	Phone    string
	Services []catalog.ServiceType
	Eligible []model.CardTemplate
	Template *model.CardTemplate
}

var validate = validator.New(validator.WithRequiredStructEnabled())

type Flow struct {
	mu         sync.Mutex
	step       Step
	draft      Draft
	rev        uint64 // bumped whenever the service selection may change
	submitting bool

	templates TemplateSource
	submitter Submitter
	timeout   time.Duration
	logger    zerolog.Logger
}

func NewFlow(templates TemplateSource, submitter Submitter, timeout time.Duration, logger zerolog.Logger) *Flow {
	return &Flow{
		step:      StepCustomer,
		templates: templates,
		submitter: submitter,
		timeout:   timeout,
		logger:    logger.With().Str("flow", "issuance").Logger(),
	}
}

func (f *Flow) Step() Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step
}

func (f *Flow) Draft() Draft {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.draft
	d.Services = append([]catalog.ServiceType(nil), f.draft.Services...)
	d.Eligible = append([]model.CardTemplate(nil), f.draft.Eligible...)
	if f.draft.Template != nil {
		t := *f.draft.Template
		d.Template = &t
	}
	return d
}

func (f *Flow) reject(sentinel error, msg string) error {
	return errs.Validation(msg).Arg("step", f.step.String()).Wrap(sentinel)
}

func (f *Flow) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.timeout > 0 {
		return context.WithTimeout(ctx, f.timeout)
	}
	return ctx, func() {}
}

// SetCustomer stores name and phone and moves to service selection.
// Spaces and dashes in the phone are ignored.
func (f *Flow) SetCustomer(name, phone string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.step != StepCustomer {
		return f.reject(ErrWrongStep, "Действие недоступно на этом шаге")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return f.reject(ErrNoName, "Введите имя клиента")
	}
	phone = strings.NewReplacer(" ", "", "-", "").Replace(phone)
	if err := validate.Var(phone, "len=11,number"); err != nil {
		return f.reject(ErrBadPhone, "Телефон должен содержать 11 цифр")
	}

	f.draft.Name = name
	f.draft.Phone = phone
	f.step = StepServices
	f.rev++
	return nil
}

func (f *Flow) ToggleService(t catalog.ServiceType) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.step != StepServices {
		return f.reject(ErrWrongStep, "Действие недоступно на этом шаге")
	}
	if !t.Basic() {
		return f.reject(ErrBadService, "Эта услуга недоступна")
	}
	next := make([]catalog.ServiceType, 0, len(f.draft.Services)+1)
	removed := false
	for _, s := range f.draft.Services {
		if s == t {
			removed = true
			continue
		}
		next = append(next, s)
	}
	if !removed {
		next = append(next, t)
	}
	f.draft.Services = next
	f.rev++
	return nil
}

// ConfirmServices loads the catalog and keeps the templates eligible for the
// chosen services. With nothing eligible the flow stays at the services step.
// If the selection changed while the catalog was loading, the result is
// dropped with a KindStale error.
func (f *Flow) ConfirmServices(ctx context.Context) ([]model.CardTemplate, error) {
	f.mu.Lock()
	if f.step != StepServices {
		defer f.mu.Unlock()
		return nil, f.reject(ErrWrongStep, "Действие недоступно на этом шаге")
	}
	if len(f.draft.Services) == 0 {
		defer f.mu.Unlock()
		return nil, f.reject(ErrNoService, "Выберите тип услуги")
	}
	services := append([]catalog.ServiceType(nil), f.draft.Services...)
	rev := f.rev
	f.mu.Unlock()

	ctx, cancel := f.withTimeout(ctx)
	defer cancel()
	templates, err := f.templates.CardTemplates(ctx)
	if err != nil {
		return nil, errs.New("load card templates").Wrap(err)
	}
	active := make([]model.CardTemplate, 0, len(templates))
	for _, t := range templates {
		if t.IsActive {
			active = append(active, t)
		}
	}
	eligible := eligibility.Match(services, active)

	f.mu.Lock()
	defer f.mu.Unlock()
	if rev != f.rev || f.step != StepServices {
		f.logger.Debug().Interface("services", services).Msg("stale card templates discarded")
		return nil, errs.New("response discarded").Kind(errs.KindStale).Arg("response", "card_templates").Wrap(ErrStale)
	}
	if len(eligible) == 0 {
		f.logger.Debug().Interface("services", services).Msg("no eligible templates")
		return nil, f.reject(ErrNoEligible, "Нет подходящих карт")
	}
	f.draft.Eligible = eligible
	f.draft.Template = nil
	f.step = StepTemplate
	return append([]model.CardTemplate(nil), eligible...), nil
}

func (f *Flow) SelectTemplate(id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.step != StepTemplate {
		return f.reject(ErrWrongStep, "Действие недоступно на этом шаге")
	}
	for _, t := range f.draft.Eligible {
		if t.ID == id {
			picked := t
			f.draft.Template = &picked
			return nil
		}
	}
	return f.reject(ErrUnknownTemplate, "Карта не найдена")
}

// Submit issues the card. Success starts a fresh draft; failure keeps it.
func (f *Flow) Submit(ctx context.Context) (*model.IssuedCard, error) {
	f.mu.Lock()
	if f.submitting {
		f.mu.Unlock()
		return nil, errs.Validation("Карта уже оформляется").Wrap(ErrSubmitting)
	}
	if f.step != StepTemplate || f.draft.Template == nil {
		defer f.mu.Unlock()
		return nil, f.reject(ErrWrongStep, "Выберите карту")
	}
	services := make([]catalog.ServiceType, 0, len(f.draft.Services))
	for _, s := range f.draft.Services {
		services = append(services, s.SubmitType())
	}
	cmd := model.NewCustomerCardCommand{
		CustomerName:  f.draft.Name,
		CustomerPhone: f.draft.Phone,
		CardTypeID:    f.draft.Template.ID,
		Services:      services,
	}
	if err := validate.Struct(cmd); err != nil {
		defer f.mu.Unlock()
		return nil, errs.Validation("Некорректные данные карты").Arg("details", err.Error())
	}
	f.submitting = true
	f.mu.Unlock()

	ctx, cancel := f.withTimeout(ctx)
	defer cancel()
	card, err := f.submitter.NewCustomerCard(ctx, cmd)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitting = false
	if err != nil {
		f.logger.Warn().Err(err).Msg("issue card failed")
		return nil, errs.New("issue new customer card").Wrap(err)
	}
	f.logger.Info().Int64("card_id", card.ID).Int64("card_type_id", cmd.CardTypeID).Msg("card issued")
	f.draft = Draft{}
	f.step = StepCustomer
	return card, nil
}

// Back: template → services drops the chosen template; services → customer
// keeps the entered data.
func (f *Flow) Back() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.step {
	case StepTemplate:
		f.draft.Template = nil
		f.draft.Eligible = nil
		f.step = StepServices
	case StepServices:
		f.step = StepCustomer
	default:
		return f.reject(ErrWrongStep, "Действие недоступно на этом шаге")
	}
	f.rev++
	return nil
}

func (f *Flow) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.draft = Draft{}
	f.step = StepCustomer
	f.rev++
}

// AddCard issues template to an existing user.
func AddCard(ctx context.Context, s Submitter, userID int64, template model.CardTemplate) (*model.IssuedCard, error) {
	cmd := model.AddCardCommand{UserID: userID, CardTypeID: template.ID}
	if err := validate.Struct(cmd); err != nil {
		return nil, errs.Validation("Некорректные данные карты").Arg("details", err.Error())
	}
	card, err := s.AddCard(ctx, cmd)
	if err != nil {
		return nil, errs.New("add card").Arg("user_id", userID).Arg("card_type_id", template.ID).Wrap(err)
	}
	return card, nil
}
