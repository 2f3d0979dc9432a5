package model

import (
	"context"
	"fmt"
	"time"

	"github.com/napryag/salon_bot/pkg/domain/catalog"
)

const (
	RoleCustomer = "customer"
	RoleStaff    = "staff"
	RoleAdmin    = "admin"
)

type User struct {
	ID       int64   `json:"id"`
	Nickname *string `json:"nickname"`
	Phone    *string `json:"phone"`
	Role     string  `json:"role"`
}

// DisplayName is the nickname, then the phone.
func (u User) DisplayName() string {
	if u.Nickname != nil && *u.Nickname != "" {
		return *u.Nickname
	}
	if u.Phone != nil && *u.Phone != "" {
		return *u.Phone
	}
	return fmt.Sprintf("#%d", u.ID)
}

type Store struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Address     string   `json:"address"`
	Phone       *string  `json:"phone"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	OpeningTime string   `json:"opening_time"`
	ClosingTime string   `json:"closing_time"`
	Distance    *float64 `json:"distance"` // метры, только если переданы координаты
	IsNearest   bool     `json:"-"`
}

// Coordinates of the customer, used to order stores by distance.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// NearestFirst flags the first store as nearest when the backend sent distances.
// The backend already sorts by distance ascending.
func NearestFirst(stores []Store) []Store {
	if len(stores) > 0 && stores[0].Distance != nil {
		stores[0].IsNearest = true
	}
	return stores
}

// CardTemplate is a purchasable card definition from the backend catalog.
type CardTemplate struct {
	ID              int64               `json:"id"`
	Name            string              `json:"name"`
	ServiceType     catalog.ServiceType `json:"service_type"`
	TotalUses       *int                `json:"total_times"`   // nil = без ограничений
	ValidityDays    *int                `json:"validity_days"` // nil = бессрочно
	Price           float64             `json:"price"`
	DurationMinutes int                 `json:"duration_minutes"`
	IsActive        bool                `json:"is_active"`
}

// OwnedCard is a card instance held by a customer.
type OwnedCard struct {
	ID            int64               `json:"id"`
	TemplateID    int64               `json:"card_type_id"`
	Name          string              `json:"card_name"`
	ServiceType   catalog.ServiceType `json:"service_type"`
	RemainingUses *int                `json:"remaining_times"` // nil = без ограничений
	ExpireDate    *Timestamp          `json:"expire_date"`     // nil = бессрочно
	IsActive      bool                `json:"is_active"`
}

type StaffMember struct {
	ID           int64   `json:"id"`
	RealName     *string `json:"real_name"`
	Nickname     *string `json:"nickname"`
	AvatarURL    *string `json:"avatar_url"`
	Introduction *string `json:"introduction"`
}

// DisplayName prefers the real name, then the nickname.
func (s StaffMember) DisplayName() string {
	if s.RealName != nil && *s.RealName != "" {
		return *s.RealName
	}
	if s.Nickname != nil && *s.Nickname != "" {
		return *s.Nickname
	}
	return fmt.Sprintf("#%d", s.ID)
}

// StaffAvailability lists the start times a staff member can take on a date.
type StaffAvailability struct {
	Staff          StaffMember `json:"staff"`
	AvailableTimes []string    `json:"available_times"` // "HH:MM"
}

// AppointmentCommand is the body of POST appointments.
type AppointmentCommand struct {
	StoreID         int64               `json:"store_id" validate:"required"`
	StaffID         int64               `json:"staff_id" validate:"required"`
	ServiceType     catalog.ServiceType `json:"service_type" validate:"required,oneof=wash soak care combo"`
	AppointmentDate string              `json:"appointment_date" validate:"required,datetime=2006-01-02"`
	StartTime       string              `json:"start_time" validate:"required,datetime=15:04"`
	UserCardID      *int64              `json:"user_card_id"`
	ServiceCount    int                 `json:"service_count" validate:"min=1"`
}

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

type Appointment struct {
	ID              int64               `json:"id"`
	CustomerID      int64               `json:"customer_id"`
	StoreID         int64               `json:"store_id"`
	StaffID         int64               `json:"staff_id"`
	ServiceType     catalog.ServiceType `json:"service_type"`
	AppointmentDate string              `json:"appointment_date"`
	StartTime       string              `json:"start_time"`
	EndTime         string              `json:"end_time"`
	Status          string              `json:"status"` // pending|confirmed|completed|cancelled
	ServiceCount    int                 `json:"service_count"`
}

// AppointmentDetail is an appointment as listed to its customer or staff member.
type AppointmentDetail struct {
	Appointment
	Customer User        `json:"customer"`
	Staff    StaffMember `json:"staff"`
	Store    Store       `json:"store"`
}

// CompleteCommand is the body of POST appointments/{id}/complete: the card
// the visit is charged to.
type CompleteCommand struct {
	UserCardID int64  `json:"user_card_id" validate:"required"`
	Notes      string `json:"notes,omitempty"`
}

// AddCardCommand is the body of POST cards/add-card.
type AddCardCommand struct {
	UserID     int64 `json:"user_id" validate:"required"`
	CardTypeID int64 `json:"card_type_id" validate:"required"`
}

// NewCustomerCardCommand is the body of POST cards/new-customer-card.
type NewCustomerCardCommand struct {
	CustomerName  string                `json:"customer_name" validate:"required"`
	CustomerPhone string                `json:"customer_phone" validate:"required,len=11,number"`
	CardTypeID    int64                 `json:"card_type_id" validate:"required"`
	Services      []catalog.ServiceType `json:"services" validate:"required,min=1,dive,oneof=wash soak care"`
}

type IssuedCard struct {
	ID            int64        `json:"id"`
	UserID        int64        `json:"user_id"`
	CardTypeID    int64        `json:"card_type_id"`
	RemainingUses *int         `json:"remaining_times"`
	ExpireDate    *Timestamp   `json:"expire_date"`
	IsActive      bool         `json:"is_active"`
	CardType      CardTemplate `json:"card_type"`
}

type LoginRequest struct {
	Name          string `json:"name"`
	Role          string `json:"role"`
	StaffPassword string `json:"staff_password,omitempty"`
}

type LoginResult struct {
	AccessToken string `json:"access_token"`
	User        User   `json:"user"`
}

// DataFetcher is the read side of the salon backend.
type DataFetcher interface {
	ListStores(ctx context.Context, at *Coordinates) ([]Store, error)
	MyCards(ctx context.Context) ([]OwnedCard, error)
	CardTemplates(ctx context.Context) ([]CardTemplate, error)
	AvailableStaff(ctx context.Context, storeID int64, workDate string, durationMin int) ([]StaffAvailability, error)
	MyAppointments(ctx context.Context) ([]AppointmentDetail, error)
	// StaffAppointments lists the logged-in staff member's appointments on
	// workDate (YYYY-MM-DD).
	StaffAppointments(ctx context.Context, workDate string) ([]AppointmentDetail, error)
	UserCards(ctx context.Context, userID int64) ([]OwnedCard, error)
	SearchUsers(ctx context.Context, nickname string) ([]User, error)
}

// CommandSubmitter is the write side of the salon backend.
type CommandSubmitter interface {
	CreateAppointment(ctx context.Context, cmd AppointmentCommand) (*Appointment, error)
	AddCard(ctx context.Context, cmd AddCardCommand) (*IssuedCard, error)
	NewCustomerCard(ctx context.Context, cmd NewCustomerCardCommand) (*IssuedCard, error)
	CancelAppointment(ctx context.Context, id int64) error
	CompleteAppointment(ctx context.Context, id int64, cmd CompleteCommand) error
}

// Credentials is what the bot keeps per Telegram user between restarts.
type Credentials struct {
	TgUserID  int64
	Token     string
	User      User
	UpdatedAt time.Time
}

type CredentialRepo interface {
	LoadCredentials(ctx context.Context, tgUserID int64) (*Credentials, error)
	SaveCredentials(ctx context.Context, c Credentials) error
	DeleteCredentials(ctx context.Context, tgUserID int64) error
}
