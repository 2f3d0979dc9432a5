// Package catalog holds the fixed service definitions of the salon.
package catalog

// ServiceType identifies a salon service or a card's coverage.
type ServiceType string

const (
	Wash     ServiceType = "wash"
	Soak     ServiceType = "soak"
	Care     ServiceType = "care"
	WashSoak ServiceType = "wash_soak"
	// Combo labels cards covering a wash-or-soak service and a care service. It is never booked directly.
	Combo ServiceType = "combo"
)

// Service is a bookable service with its duration in minutes.
type Service struct {
	Type     ServiceType
	Name     string
	Duration int
}

var services = map[ServiceType]Service{
	Wash:     {Type: Wash, Name: "Мытьё головы", Duration: 30},
	Soak:     {Type: Soak, Name: "Распаривание", Duration: 50},
	Care:     {Type: Care, Name: "Уход за волосами", Duration: 50},
	WashSoak: {Type: WashSoak, Name: "Мытьё + распаривание", Duration: 50},
}

// Lookup returns the definition of a bookable service type.
func Lookup(t ServiceType) (Service, bool) {
	s, ok := services[t]
	return s, ok
}

// Title is the display name of t. Card coverage types without a service
// definition get their own label.
func (t ServiceType) Title() string {
	if s, ok := services[t]; ok {
		return s.Name
	}
	if t == Combo {
		return "Комплекс"
	}
	return string(t)
}

// Duration is the service length in minutes, 0 for types that are not bookable on their own.
func (t ServiceType) Duration() int {
	return services[t].Duration
}

// Bookable reports whether t can be selected in a booking.
func (t ServiceType) Bookable() bool {
	_, ok := services[t]
	return ok
}

// Basic reports whether t is one of the three single services offered to guests.
func (t ServiceType) Basic() bool {
	return t == Wash || t == Soak || t == Care
}

// SubmitType maps a selected service to the value the backend accepts.
// Soaking always includes a wash, so wash_soak is booked as soak.
func (t ServiceType) SubmitType() ServiceType {
	if t == WashSoak {
		return Soak
	}
	return t
}

// GuestServices is the fixed offer for customers booking without a card.
func GuestServices() []Service {
	return []Service{services[Wash], services[Soak], services[Care]}
}

// TotalDuration sums the durations of the given services.
func TotalDuration(types []ServiceType) int {
	total := 0
	for _, t := range types {
		total += t.Duration()
	}
	return total
}

// Contains reports whether types holds t.
func Contains(types []ServiceType, t ServiceType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}
