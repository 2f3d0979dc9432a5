// Package api talks to the salon backend over HTTP/JSON.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/napryag/salon_bot/pkg/repository/model"
	"github.com/napryag/salon_bot/pkg/utils/errs"
)

const (
	maxBodySize       = 1 << 20
	unauthorizedMsg   = "Сессия истекла, нажмите /start"
	defaultRemoteMsg  = "Запрос не выполнен"
	badResponseMsg    = "Некорректный ответ сервера"
	requestIDHeader   = "X-Request-ID"
	defaultTimeout    = 10 * time.Second
	defaultRatePerSec = 5
	defaultRateBurst  = 10
)

type Config struct {
	BaseURL       string        `yaml:"base_url" validate:"required,url"`
	Timeout       time.Duration `yaml:"timeout"`
	RatePerSecond float64       `yaml:"rate_per_second" validate:"gte=0"`
	Burst         int           `yaml:"burst" validate:"gte=0"`
}

// Credentials is the session side of an authenticated request.
type Credentials interface {
	Token() (string, bool)
	Invalidate()
}

// Transport is shared by all chats; it owns the HTTP client and the limiter.
type Transport struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	timeout time.Duration
	logger  zerolog.Logger
}

func NewTransport(cfg Config, httpClient *http.Client, logger zerolog.Logger) (*Transport, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errs.New("invalid api base url").Arg("base_url", cfg.BaseURL).Wrap(err)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rps, burst := cfg.RatePerSecond, cfg.Burst
	if rps <= 0 {
		rps = defaultRatePerSec
	}
	if burst <= 0 {
		burst = defaultRateBurst
	}

	return &Transport{
		base:    base,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		timeout: timeout,
		logger:  logger.With().Str("component", "api").Logger(),
	}, nil
}

// Client binds the transport to one chat's credentials.
func (t *Transport) Client(creds Credentials) *Client {
	return &Client{t: t, creds: creds}
}

// Login exchanges a name (and the staff password for staff) for an access token.
func (t *Transport) Login(ctx context.Context, req model.LoginRequest) (*model.LoginResult, error) {
	var out model.LoginResult
	if err := t.do(ctx, nil, http.MethodPost, "auth/name-login", nil, req, &out); err != nil {
		return nil, errs.New("login").Arg("role", req.Role).Wrap(err)
	}
	if out.AccessToken == "" {
		return nil, errs.Remote(badResponseMsg).Arg("reason", "empty access token")
	}
	return &out, nil
}

type Client struct {
	t     *Transport
	creds Credentials
}

var (
	_ model.DataFetcher      = (*Client)(nil)
	_ model.CommandSubmitter = (*Client)(nil)
)

// ListStores returns the stores; with at set they carry distances, nearest first.
func (c *Client) ListStores(ctx context.Context, at *model.Coordinates) ([]model.Store, error) {
	var q url.Values
	if at != nil {
		q = url.Values{}
		q.Set("latitude", strconv.FormatFloat(at.Latitude, 'f', -1, 64))
		q.Set("longitude", strconv.FormatFloat(at.Longitude, 'f', -1, 64))
	}
	var out []model.Store
	if err := c.t.do(ctx, c.creds, http.MethodGet, "stores", q, nil, &out); err != nil {
		return nil, err
	}
	return model.NearestFirst(out), nil
}

func (c *Client) MyCards(ctx context.Context) ([]model.OwnedCard, error) {
	var out []model.OwnedCard
	if err := c.t.do(ctx, c.creds, http.MethodGet, "cards/my-cards", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CardTemplates(ctx context.Context) ([]model.CardTemplate, error) {
	var out []model.CardTemplate
	if err := c.t.do(ctx, c.creds, http.MethodGet, "cards/types", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AvailableStaff(ctx context.Context, storeID int64, workDate string, durationMin int) ([]model.StaffAvailability, error) {
	q := url.Values{}
	q.Set("store_id", strconv.FormatInt(storeID, 10))
	q.Set("work_date", workDate)
	q.Set("service_duration", strconv.Itoa(durationMin))

	var out []model.StaffAvailability
	if err := c.t.do(ctx, c.creds, http.MethodGet, "schedules/available-staff", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) MyAppointments(ctx context.Context) ([]model.AppointmentDetail, error) {
	var out []model.AppointmentDetail
	if err := c.t.do(ctx, c.creds, http.MethodGet, "appointments/my-appointments", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) StaffAppointments(ctx context.Context, workDate string) ([]model.AppointmentDetail, error) {
	q := url.Values{}
	q.Set("appointment_date", workDate)

	var out []model.AppointmentDetail
	if err := c.t.do(ctx, c.creds, http.MethodGet, "appointments/staff-appointments", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UserCards lists another user's cards; staff only.
func (c *Client) UserCards(ctx context.Context, userID int64) ([]model.OwnedCard, error) {
	var out []model.OwnedCard
	if err := c.t.do(ctx, c.creds, http.MethodGet, "cards/user/"+strconv.FormatInt(userID, 10), nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SearchUsers(ctx context.Context, nickname string) ([]model.User, error) {
	q := url.Values{}
	q.Set("nickname", nickname)

	var out []model.User
	if err := c.t.do(ctx, c.creds, http.MethodGet, "users/search", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateAppointment(ctx context.Context, cmd model.AppointmentCommand) (*model.Appointment, error) {
	var out model.Appointment
	if err := c.t.do(ctx, c.creds, http.MethodPost, "appointments", nil, cmd, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AddCard(ctx context.Context, cmd model.AddCardCommand) (*model.IssuedCard, error) {
	var out model.IssuedCard
	if err := c.t.do(ctx, c.creds, http.MethodPost, "cards/add-card", nil, cmd, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) NewCustomerCard(ctx context.Context, cmd model.NewCustomerCardCommand) (*model.IssuedCard, error) {
	var out model.IssuedCard
	if err := c.t.do(ctx, c.creds, http.MethodPost, "cards/new-customer-card", nil, cmd, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CancelAppointment(ctx context.Context, id int64) error {
	return c.t.do(ctx, c.creds, http.MethodPost, "appointments/"+strconv.FormatInt(id, 10)+"/cancel", nil, nil, nil)
}

// CompleteAppointment closes a visit and charges it to cmd.UserCardID.
func (c *Client) CompleteAppointment(ctx context.Context, id int64, cmd model.CompleteCommand) error {
	return c.t.do(ctx, c.creds, http.MethodPost, "appointments/"+strconv.FormatInt(id, 10)+"/complete", nil, cmd, nil)
}

// do performs one request. creds == nil means an unauthenticated call.
func (t *Transport) do(ctx context.Context, creds Credentials, method, path string, query url.Values, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	requestID := uuid.NewString()
	log := t.logger.With().Str("method", method).Str("path", path).Str("request_id", requestID).Logger()

	var token string
	if creds != nil {
		tok, ok := creds.Token()
		if !ok {
			creds.Invalidate()
			return errs.New(unauthorizedMsg).Kind(errs.KindUnauthorized).Arg("path", path)
		}
		token = tok
	}

	u := t.base.ResolveReference(&url.URL{Path: path})
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errs.New("encode request body").Arg("path", path).Wrap(err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return errs.New("build request").Arg("path", path).Wrap(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(requestIDHeader, requestID)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return networkError(path, err)
	}

	started := time.Now()
	resp, err := t.http.Do(req)
	if err != nil {
		log.Warn().Err(err).Dur("took", time.Since(started)).Msg("request failed")
		return networkError(path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return networkError(path, err)
	}
	log.Debug().Int("status", resp.StatusCode).Dur("took", time.Since(started)).Msg("request done")

	switch {
	case resp.StatusCode == http.StatusUnauthorized && creds != nil:
		creds.Invalidate()
		return errs.New(unauthorizedMsg).Kind(errs.KindUnauthorized).Arg("status", resp.StatusCode).Arg("path", path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return errs.Remote(detailMessage(raw, resp.StatusCode)).Arg("status", resp.StatusCode).Arg("path", path)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errs.Remote(badResponseMsg).Arg("path", path).Wrap(err)
	}
	return nil
}

func networkError(path string, err error) error {
	reason := "transport"
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "timeout"
	}
	return errs.Network(errs.NetworkMessage).Arg("path", path).Arg("reason", reason).Wrap(err)
}

// detailMessage pulls the user-facing message out of an error body.
// The backend sends {"detail": "..."} or, for request validation,
// {"detail": [{"msg": "..."}]}.
func detailMessage(body []byte, status int) string {
	if gjson.ValidBytes(body) {
		detail := gjson.GetBytes(body, "detail")
		switch {
		case detail.Type == gjson.String && detail.String() != "":
			return detail.String()
		case detail.IsArray():
			if msg := detail.Get("0.msg"); msg.Exists() && msg.String() != "" {
				return msg.String()
			}
		}
		if msg := gjson.GetBytes(body, "message"); msg.Type == gjson.String && msg.String() != "" {
			return msg.String()
		}
	}
	return fmt.Sprintf("%s (%d)", defaultRemoteMsg, status)
}
