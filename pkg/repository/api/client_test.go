package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/napryag/salon_bot/pkg/domain/catalog"
	"github.com/napryag/salon_bot/pkg/repository/model"
	"github.com/napryag/salon_bot/pkg/utils/errs"
)

type fakeCreds struct {
	token       string
	ok          bool
	invalidated atomic.Int32
}

func (c *fakeCreds) Token() (string, bool) { return c.token, c.ok }
func (c *fakeCreds) Invalidate()           { c.invalidated.Add(1) }

func newTestTransport(t *testing.T, h http.HandlerFunc) *Transport {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	tr, err := NewTransport(Config{BaseURL: srv.URL + "/api", Timeout: time.Second, RatePerSecond: 1000, Burst: 100}, srv.Client(), zerolog.Nop())
	require.NoError(t, err)
	return tr
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestAvailableStaffRequest(t *testing.T) {
	t.Parallel()

	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/schedules/available-staff", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("store_id"))
		assert.Equal(t, "2025-06-02", r.URL.Query().Get("work_date"))
		assert.Equal(t, "80", r.URL.Query().Get("service_duration"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, err := uuid.Parse(r.Header.Get("X-Request-ID"))
		assert.NoError(t, err)

		_, _ = io.WriteString(w, `[{"staff":{"id":5,"real_name":"Ольга","nickname":null},"available_times":["10:00","10:30"]}]`)
	})

	c := tr.Client(&fakeCreds{token: "tok", ok: true})
	staff, err := c.AvailableStaff(context.Background(), 3, "2025-06-02", 80)
	require.NoError(t, err)
	require.Len(t, staff, 1)
	assert.Equal(t, "Ольга", staff[0].Staff.DisplayName())
	assert.Equal(t, []string{"10:00", "10:30"}, staff[0].AvailableTimes)
}

func TestCreateAppointmentBody(t *testing.T) {
	t.Parallel()

	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/appointments", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"store_id":1,"staff_id":5,"service_type":"soak","appointment_date":"2025-06-02","start_time":"10:30","user_card_id":null,"service_count":2}`, string(raw))

		writeJSON(t, w, http.StatusOK, model.Appointment{ID: 9, ServiceType: catalog.Soak, Status: "pending"})
	})

	c := tr.Client(&fakeCreds{token: "tok", ok: true})
	apt, err := c.CreateAppointment(context.Background(), model.AppointmentCommand{
		StoreID: 1, StaffID: 5, ServiceType: catalog.Soak, AppointmentDate: "2025-06-02", StartTime: "10:30", ServiceCount: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9), apt.ID)
	assert.Equal(t, "pending", apt.Status)
}

func TestStaffAppointmentsRequest(t *testing.T) {
	t.Parallel()

	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/appointments/staff-appointments", r.URL.Path)
		assert.Equal(t, "2025-06-03", r.URL.Query().Get("appointment_date"))
		_, _ = io.WriteString(w, `[{"id":31,"customer_id":8,"store_id":1,"staff_id":5,"service_type":"wash",
			"appointment_date":"2025-06-03","start_time":"10:00","end_time":"10:30","status":"confirmed","service_count":1,
			"customer":{"id":8,"nickname":"Анна","phone":null,"role":"customer"},
			"staff":{"id":5,"real_name":"Ольга"},
			"store":{"id":1,"name":"Центр","address":"Ленина, 1"}}]`)
	})

	list, err := tr.Client(&fakeCreds{token: "tok", ok: true}).StaffAppointments(context.Background(), "2025-06-03")
	require.NoError(t, err)
	require.Len(t, list, 1)
	apt := list[0]
	assert.Equal(t, int64(31), apt.ID)
	assert.Equal(t, int64(8), apt.CustomerID)
	assert.Equal(t, model.StatusConfirmed, apt.Status)
	assert.Equal(t, "10:30", apt.EndTime)
	assert.Equal(t, "Анна", apt.Customer.DisplayName())
	assert.Equal(t, "Ольга", apt.Staff.DisplayName())
	assert.Equal(t, "Центр", apt.Store.Name)
}

func TestCloseAppointmentRequests(t *testing.T) {
	t.Parallel()

	paths := make(chan string, 2)
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		paths <- r.URL.Path
		if r.URL.Path == "/api/appointments/31/complete" {
			raw, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			assert.JSONEq(t, `{"user_card_id":42}`, string(raw))
		}
		writeJSON(t, w, http.StatusOK, map[string]bool{"success": true})
	})

	c := tr.Client(&fakeCreds{token: "tok", ok: true})
	require.NoError(t, c.CancelAppointment(context.Background(), 30))
	require.NoError(t, c.CompleteAppointment(context.Background(), 31, model.CompleteCommand{UserCardID: 42}))
	assert.Equal(t, "/api/appointments/30/cancel", <-paths)
	assert.Equal(t, "/api/appointments/31/complete", <-paths)
}

func TestUserLookups(t *testing.T) {
	t.Parallel()

	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/users/search":
			assert.Equal(t, "Анна", r.URL.Query().Get("nickname"))
			_, _ = io.WriteString(w, `[{"id":8,"nickname":"Анна","phone":"89991234567","role":"customer"}]`)
		case "/api/cards/user/8":
			_, _ = io.WriteString(w, `[{"id":42,"card_name":"Мытьё x10","service_type":"wash","remaining_times":3,"is_active":true}]`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	c := tr.Client(&fakeCreds{token: "tok", ok: true})
	users, err := c.SearchUsers(context.Background(), "Анна")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, int64(8), users[0].ID)

	owned, err := c.UserCards(context.Background(), 8)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, "Мытьё x10", owned[0].Name)
	require.NotNil(t, owned[0].RemainingUses)
	assert.Equal(t, 3, *owned[0].RemainingUses)
}

func TestListStoresWithCoordinates(t *testing.T) {
	t.Parallel()

	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/stores", r.URL.Path)
		assert.Equal(t, "55.75", r.URL.Query().Get("latitude"))
		assert.Equal(t, "37.62", r.URL.Query().Get("longitude"))
		_, _ = io.WriteString(w, `[{"id":2,"name":"Центр","distance":120.5},{"id":1,"name":"Север","distance":900}]`)
	})

	stores, err := tr.Client(&fakeCreds{token: "tok", ok: true}).ListStores(context.Background(), &model.Coordinates{Latitude: 55.75, Longitude: 37.62})
	require.NoError(t, err)
	require.Len(t, stores, 2)
	assert.True(t, stores[0].IsNearest)
	assert.False(t, stores[1].IsNearest)
}

func TestRemoteErrorDetail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"string detail", `{"detail":"Это время уже занято"}`, "Это время уже занято"},
		{"validation detail", `{"detail":[{"loc":["body","start_time"],"msg":"invalid time"}]}`, "invalid time"},
		{"message field", `{"message":"store closed"}`, "store closed"},
		{"not json", `<html>oops</html>`, "Запрос не выполнен (400)"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tr := newTestTransport(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = io.WriteString(w, tt.body)
			})
			creds := &fakeCreds{token: "tok", ok: true}
			_, err := tr.Client(creds).MyCards(context.Background())
			require.Error(t, err)
			assert.Equal(t, errs.KindRemote, errs.KindOf(err))
			assert.Equal(t, tt.want, errs.UserMessage(err))
			assert.Zero(t, creds.invalidated.Load())
		})
	}
}

func TestUnauthorizedInvalidatesSession(t *testing.T) {
	t.Parallel()

	tr := newTestTransport(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusUnauthorized, map[string]string{"detail": "Could not validate credentials"})
	})
	creds := &fakeCreds{token: "tok", ok: true}
	_, err := tr.Client(creds).CardTemplates(context.Background())

	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindUnauthorized))
	assert.Equal(t, int32(1), creds.invalidated.Load())
}

func TestMissingTokenSkipsRequest(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	tr := newTestTransport(t, func(http.ResponseWriter, *http.Request) { hits.Add(1) })
	creds := &fakeCreds{}
	_, err := tr.Client(creds).MyCards(context.Background())

	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindUnauthorized))
	assert.Zero(t, hits.Load())
	assert.Equal(t, int32(1), creds.invalidated.Load())
}

func TestNetworkErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	tr, err := NewTransport(Config{BaseURL: url}, nil, zerolog.Nop())
	require.NoError(t, err)
	_, err = tr.Client(&fakeCreds{token: "tok", ok: true}).MyCards(context.Background())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindNetwork))
	assert.Equal(t, errs.NetworkMessage, errs.UserMessage(err))
}

func TestRequestTimeoutIsNetworkError(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { <-release }))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	tr, err := NewTransport(Config{BaseURL: srv.URL, Timeout: 30 * time.Millisecond}, srv.Client(), zerolog.Nop())
	require.NoError(t, err)
	_, err = tr.Client(&fakeCreds{token: "tok", ok: true}).MyCards(context.Background())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindNetwork))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLogin(t *testing.T) {
	t.Parallel()

	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/name-login", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))

		var req model.LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Role == model.RoleStaff && req.StaffPassword != "secret" {
			writeJSON(t, w, http.StatusUnauthorized, map[string]string{"detail": "Неверный пароль"})
			return
		}
		writeJSON(t, w, http.StatusOK, model.LoginResult{AccessToken: "jwt", User: model.User{ID: 4, Role: req.Role}})
	})

	res, err := tr.Login(context.Background(), model.LoginRequest{Name: "Анна", Role: model.RoleCustomer})
	require.NoError(t, err)
	assert.Equal(t, "jwt", res.AccessToken)
	assert.Equal(t, int64(4), res.User.ID)

	_, err = tr.Login(context.Background(), model.LoginRequest{Name: "Ольга", Role: model.RoleStaff, StaffPassword: "nope"})
	require.Error(t, err)
	assert.Equal(t, errs.KindRemote, errs.KindOf(err))
	assert.Equal(t, "Неверный пароль", errs.UserMessage(err))
}

func TestNewTransportRejectsBadURL(t *testing.T) {
	t.Parallel()

	_, err := NewTransport(Config{BaseURL: "not a url"}, nil, zerolog.Nop())
	assert.Error(t, err)
}
