package issuance

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/napryag/salon_bot/pkg/domain/catalog"
	"github.com/napryag/salon_bot/pkg/repository/model"
	"github.com/napryag/salon_bot/pkg/utils/errs"
)

type fakeBackend struct {
	templates    []model.CardTemplate
	templatesErr error
	// when set, CardTemplates signals started and waits for release
	started chan struct{}
	release chan struct{}

	issued    []model.NewCustomerCardCommand
	added     []model.AddCardCommand
	submitErr error
}

func (b *fakeBackend) CardTemplates(context.Context) ([]model.CardTemplate, error) {
	if b.release != nil {
		b.started <- struct{}{}
		<-b.release
	}
	return b.templates, b.templatesErr
}

func (b *fakeBackend) NewCustomerCard(_ context.Context, cmd model.NewCustomerCardCommand) (*model.IssuedCard, error) {
	if b.submitErr != nil {
		return nil, b.submitErr
	}
	b.issued = append(b.issued, cmd)
	return &model.IssuedCard{ID: 500, CardTypeID: cmd.CardTypeID, IsActive: true}, nil
}

func (b *fakeBackend) AddCard(_ context.Context, cmd model.AddCardCommand) (*model.IssuedCard, error) {
	if b.submitErr != nil {
		return nil, b.submitErr
	}
	b.added = append(b.added, cmd)
	return &model.IssuedCard{ID: 501, UserID: cmd.UserID, CardTypeID: cmd.CardTypeID}, nil
}

func catalogFixture() []model.CardTemplate {
	return []model.CardTemplate{
		{ID: 1, Name: "Мытьё x10", ServiceType: catalog.Wash, IsActive: true},
		{ID: 2, Name: "Распаривание x10", ServiceType: catalog.Soak, IsActive: true},
		{ID: 3, Name: "Уход x5", ServiceType: catalog.Care, IsActive: true},
		{ID: 4, Name: "Комплекс", ServiceType: catalog.Combo, IsActive: true},
		{ID: 5, Name: "Старый уход", ServiceType: catalog.Care, IsActive: false},
	}
}

func newTestFlow(b *fakeBackend) *Flow {
	return NewFlow(b, b, time.Second, zerolog.Nop())
}

func TestIssueNewCustomerCard(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{templates: catalogFixture()}
	f := newTestFlow(b)

	require.NoError(t, f.SetCustomer("  Анна ", "8 912-345-67-89"))
	assert.Equal(t, StepServices, f.Step())

	require.NoError(t, f.ToggleService(catalog.Soak))
	require.NoError(t, f.ToggleService(catalog.Care))

	eligible, err := f.ConfirmServices(context.Background())
	require.NoError(t, err)
	ids := make([]int64, 0, len(eligible))
	for _, tpl := range eligible {
		ids = append(ids, tpl.ID)
	}
	assert.Equal(t, []int64{2, 3, 4}, ids, "inactive template 5 is never offered")
	assert.Equal(t, StepTemplate, f.Step())

	assert.ErrorIs(t, f.SelectTemplate(1), ErrUnknownTemplate)
	require.NoError(t, f.SelectTemplate(4))

	card, err := f.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(500), card.ID)

	require.Len(t, b.issued, 1)
	assert.Equal(t, model.NewCustomerCardCommand{
		CustomerName:  "Анна",
		CustomerPhone: "89123456789",
		CardTypeID:    4,
		Services:      []catalog.ServiceType{catalog.Soak, catalog.Care},
	}, b.issued[0])

	assert.Equal(t, StepCustomer, f.Step())
	assert.Empty(t, f.Draft().Name)
}

func TestSetCustomerValidation(t *testing.T) {
	t.Parallel()

	f := newTestFlow(&fakeBackend{})

	tests := []struct {
		name, phone string
		want        error
	}{
		{"", "89123456789", ErrNoName},
		{"Анна", "8912345678", ErrBadPhone},
		{"Анна", "+7912345678", ErrBadPhone},
		{"Анна", "8912345678a", ErrBadPhone},
	}
	for _, tt := range tests {
		err := f.SetCustomer(tt.name, tt.phone)
		assert.ErrorIs(t, err, tt.want, tt.phone)
		assert.True(t, errs.Is(err, errs.KindValidation))
	}
	assert.Equal(t, StepCustomer, f.Step())
}

func TestConfirmServicesRejections(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{templates: []model.CardTemplate{{ID: 1, ServiceType: catalog.Wash, IsActive: true}}}
	f := newTestFlow(b)
	require.NoError(t, f.SetCustomer("Анна", "89123456789"))

	_, err := f.ConfirmServices(context.Background())
	require.ErrorIs(t, err, ErrNoService)
	assert.Equal(t, "Выберите тип услуги", errs.UserMessage(err))

	assert.ErrorIs(t, f.ToggleService(catalog.Combo), ErrBadService)

	require.NoError(t, f.ToggleService(catalog.Care))
	_, err = f.ConfirmServices(context.Background())
	require.ErrorIs(t, err, ErrNoEligible)
	assert.Equal(t, StepServices, f.Step())
	assert.Equal(t, []catalog.ServiceType{catalog.Care}, f.Draft().Services)
}

func TestConfirmServicesBackendFailure(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{templatesErr: errs.Network("timeout")}
	f := newTestFlow(b)
	require.NoError(t, f.SetCustomer("Анна", "89123456789"))
	require.NoError(t, f.ToggleService(catalog.Wash))

	_, err := f.ConfirmServices(context.Background())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindNetwork))
	assert.Equal(t, StepServices, f.Step())
}

func TestToggleDuringTemplateLoad(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{
		templates: catalogFixture(),
		started:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	f := newTestFlow(b)
	require.NoError(t, f.SetCustomer("Анна", "89123456789"))
	require.NoError(t, f.ToggleService(catalog.Wash))

	done := make(chan error, 1)
	go func() {
		_, err := f.ConfirmServices(context.Background())
		done <- err
	}()
	<-b.started
	require.NoError(t, f.ToggleService(catalog.Care))
	close(b.release)

	err := <-done
	require.ErrorIs(t, err, ErrStale)
	assert.True(t, errs.Is(err, errs.KindStale))
	assert.Equal(t, StepServices, f.Step())
	d := f.Draft()
	assert.Equal(t, []catalog.ServiceType{catalog.Wash, catalog.Care}, d.Services)
	assert.Empty(t, d.Eligible)

	b.release = nil
	eligible, err := f.ConfirmServices(context.Background())
	require.NoError(t, err)
	ids := make([]int64, 0, len(eligible))
	for _, tpl := range eligible {
		ids = append(ids, tpl.ID)
	}
	assert.Equal(t, []int64{1, 3}, ids)
}

func TestBackDuringTemplateLoad(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{
		templates: catalogFixture(),
		started:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	f := newTestFlow(b)
	require.NoError(t, f.SetCustomer("Анна", "89123456789"))
	require.NoError(t, f.ToggleService(catalog.Wash))

	done := make(chan error, 1)
	go func() {
		_, err := f.ConfirmServices(context.Background())
		done <- err
	}()
	<-b.started
	require.NoError(t, f.Back())
	close(b.release)

	assert.ErrorIs(t, <-done, ErrStale)
	assert.Equal(t, StepCustomer, f.Step())
}

func TestSubmitFailureKeepsDraft(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{templates: catalogFixture(), submitErr: errs.Remote("Телефон уже зарегистрирован")}
	f := newTestFlow(b)
	require.NoError(t, f.SetCustomer("Анна", "89123456789"))
	require.NoError(t, f.ToggleService(catalog.Wash))
	_, err := f.ConfirmServices(context.Background())
	require.NoError(t, err)
	require.NoError(t, f.SelectTemplate(1))

	_, err = f.Submit(context.Background())
	require.Error(t, err)
	assert.Equal(t, "Телефон уже зарегистрирован", errs.UserMessage(err))
	assert.Equal(t, StepTemplate, f.Step())
	require.NotNil(t, f.Draft().Template)
	assert.Equal(t, int64(1), f.Draft().Template.ID)
}

func TestSubmitWithoutTemplate(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{templates: catalogFixture()}
	f := newTestFlow(b)
	_, err := f.Submit(context.Background())
	assert.ErrorIs(t, err, ErrWrongStep)

	require.NoError(t, f.SetCustomer("Анна", "89123456789"))
	require.NoError(t, f.ToggleService(catalog.Wash))
	_, err = f.ConfirmServices(context.Background())
	require.NoError(t, err)
	_, err = f.Submit(context.Background())
	assert.ErrorIs(t, err, ErrWrongStep)
	assert.Empty(t, b.issued)
}

func TestBack(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{templates: catalogFixture()}
	f := newTestFlow(b)
	assert.ErrorIs(t, f.Back(), ErrWrongStep)

	require.NoError(t, f.SetCustomer("Анна", "89123456789"))
	require.NoError(t, f.ToggleService(catalog.Wash))
	_, err := f.ConfirmServices(context.Background())
	require.NoError(t, err)
	require.NoError(t, f.SelectTemplate(1))

	require.NoError(t, f.Back())
	assert.Equal(t, StepServices, f.Step())
	d := f.Draft()
	assert.Nil(t, d.Template)
	assert.Equal(t, []catalog.ServiceType{catalog.Wash}, d.Services)

	require.NoError(t, f.Back())
	assert.Equal(t, StepCustomer, f.Step())
	d = f.Draft()
	assert.Equal(t, "Анна", d.Name)
	assert.Equal(t, "89123456789", d.Phone)

	f.Reset()
	assert.Equal(t, Draft{}, f.Draft())
}

func TestAddCard(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{}
	card, err := AddCard(context.Background(), b, 12, model.CardTemplate{ID: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(501), card.ID)
	assert.Equal(t, []model.AddCardCommand{{UserID: 12, CardTypeID: 3}}, b.added)

	_, err = AddCard(context.Background(), b, 0, model.CardTemplate{ID: 3})
	assert.True(t, errs.Is(err, errs.KindValidation))

	b.submitErr = errs.Remote("Пользователь не найден")
	_, err = AddCard(context.Background(), b, 12, model.CardTemplate{ID: 3})
	assert.Equal(t, "Пользователь не найден", errs.UserMessage(err))
}
