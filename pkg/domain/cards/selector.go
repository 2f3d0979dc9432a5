// Package cards classifies a customer's owned cards for booking.
package cards

import (
	"errors"
	"time"

	"github.com/napryag/salon_bot/pkg/domain/catalog"
	"github.com/napryag/salon_bot/pkg/repository/model"
	"github.com/napryag/salon_bot/pkg/utils/errs"
)

// Reason explains why a card cannot be selected.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonExpired   Reason = "EXPIRED"
	ReasonExhausted Reason = "EXHAUSTED"
)

var (
	ErrExpired   = errors.New("card expired")
	ErrExhausted = errors.New("card has no uses left")
)

// Card is an owned card with the attributes derived at classification time.
type Card struct {
	model.OwnedCard
	IsExpired         bool
	IsUsable          bool
	AvailableServices []catalog.Service
}

// Classify derives expiry, usability and unlocked services for every card.
func Classify(owned []model.OwnedCard, now time.Time) []Card {
	out := make([]Card, 0, len(owned))
	for _, oc := range owned {
		out = append(out, classify(oc, now))
	}
	return out
}

func classify(oc model.OwnedCard, now time.Time) Card {
	expired := oc.ExpireDate != nil && oc.ExpireDate.Before(now)
	exhausted := oc.RemainingUses != nil && *oc.RemainingUses <= 0
	return Card{
		OwnedCard:         oc,
		IsExpired:         expired,
		IsUsable:          !expired && !exhausted,
		AvailableServices: AvailableServices(oc.ServiceType),
	}
}

// AvailableServices lists the services a card of type t unlocks.
// A combo card offers wash_soak and care, each selectable on its own.
// Unknown types unlock nothing.
func AvailableServices(t catalog.ServiceType) []catalog.Service {
	if t == catalog.Combo {
		ws, _ := catalog.Lookup(catalog.WashSoak)
		care, _ := catalog.Lookup(catalog.Care)
		return []catalog.Service{ws, care}
	}
	if s, ok := catalog.Lookup(t); ok {
		return []catalog.Service{s}
	}
	return []catalog.Service{}
}

// Reason returns why the card is unusable; expiry wins over exhaustion.
func (c Card) Reason() Reason {
	switch {
	case c.IsExpired:
		return ReasonExpired
	case !c.IsUsable:
		return ReasonExhausted
	default:
		return ReasonNone
	}
}

// Allows reports whether the card unlocks service t.
func (c Card) Allows(t catalog.ServiceType) bool {
	for _, s := range c.AvailableServices {
		if s.Type == t {
			return true
		}
	}
	return false
}

// CheckSelectable rejects unusable cards with a validation error wrapping
// ErrExpired or ErrExhausted.
func CheckSelectable(c Card) error {
	switch c.Reason() {
	case ReasonExpired:
		return errs.Validation("Срок действия карты истёк").Arg("card_id", c.ID).Arg("reason", ReasonExpired).Wrap(ErrExpired)
	case ReasonExhausted:
		return errs.Validation("На карте не осталось посещений").Arg("card_id", c.ID).Arg("reason", ReasonExhausted).Wrap(ErrExhausted)
	}
	return nil
}

// Find returns the card with the given id.
func Find(cards []Card, id int64) (Card, bool) {
	for _, c := range cards {
		if c.ID == id {
			return c, true
		}
	}
	return Card{}, false
}
