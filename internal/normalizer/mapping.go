package normalizer

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/tbourn/go-rental-funnel/internal/domain"
)

// Path is a dotted lookup path split once at configuration time.
type Path []string

// ParsePath splits s on '.'. The empty string yields a nil Path, which never
// resolves.
func ParsePath(s string) Path {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return Path(strings.Split(s, "."))
}

func (p Path) String() string { return strings.Join(p, ".") }

// FieldMapping tells the normalizer where each canonical field lives in one
// provider's payload. StatusValues maps provider status tokens (exact match)
// onto canonical booking states.
type FieldMapping struct {
	EventID      Path
	EventType    Path
	ApartmentID  Path
	CheckIn      Path
	CheckOut     Path
	TotalAmount  Path
	Currency     Path
	Phone        Path
	Email        Path
	StatusValues map[string]string
}

// Registry holds field mappings keyed by lower-cased provider id. It is safe
// for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	mappings map[string]FieldMapping
}

// NewRegistry returns a registry preloaded with the built-in providers.
func NewRegistry() *Registry {
	r := &Registry{mappings: make(map[string]FieldMapping)}
	for id, m := range builtin() {
		r.mappings[id] = m
	}
	return r
}

// Register adds or replaces the mapping for provider.
func (r *Registry) Register(provider string, m FieldMapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappings[ProviderKey(provider)] = m
}

// Get returns the mapping for provider.
func (r *Registry) Get(provider string) (FieldMapping, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mappings[ProviderKey(provider)]
	return m, ok
}

// Providers lists registered provider ids in sorted order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.mappings))
	for id := range r.mappings {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ProviderKey canonicalizes a provider id: trimmed and lower-cased.
func ProviderKey(p string) string { return strings.ToLower(strings.TrimSpace(p)) }

func builtin() map[string]FieldMapping {
	return map[string]FieldMapping{
		"homereserve": {
			EventID:     ParsePath("booking_id"),
			EventType:   ParsePath("status"),
			ApartmentID: ParsePath("apartment_id"),
			CheckIn:     ParsePath("check_in_date"),
			CheckOut:    ParsePath("check_out_date"),
			TotalAmount: ParsePath("price"),
			Currency:    ParsePath("currency"),
			Phone:       ParsePath("guest_phone"),
			Email:       ParsePath("guest_email"),
			StatusValues: map[string]string{
				"confirmed": domain.BookingConfirmed,
				"paid":      domain.BookingPaid,
				"cancelled": domain.BookingCanceled,
			},
		},
		"booking_com": {
			EventID:     ParsePath("reservation_id"),
			EventType:   ParsePath("event_type"),
			ApartmentID: ParsePath("property_id"),
			CheckIn:     ParsePath("arrival_date"),
			CheckOut:    ParsePath("departure_date"),
			TotalAmount: ParsePath("total_price"),
			Currency:    ParsePath("currency_code"),
			Phone:       ParsePath("guest_phone"),
			Email:       ParsePath("guest_email"),
			StatusValues: map[string]string{
				"RESERVATION_ACCEPTED":  domain.BookingConfirmed,
				"RESERVATION_CONFIRMED": domain.BookingConfirmed,
				"RESERVATION_CANCELLED": domain.BookingCanceled,
				"PAYMENT_RECEIVED":      domain.BookingPaid,
			},
		},
	}
}

// mappingFile is the on-disk shape of PROVIDERS_FILE:
//
//	providers:
//	  airbnb:
//	    event_id: reservation.code
//	    event_type: reservation.status
//	    status_values:
//	      ACCEPTED: confirmed
type mappingFile struct {
	Providers map[string]mappingSpec `yaml:"providers"`
}

type mappingSpec struct {
	EventID      string            `yaml:"event_id"`
	EventType    string            `yaml:"event_type"`
	ApartmentID  string            `yaml:"apartment_id"`
	CheckIn      string            `yaml:"check_in"`
	CheckOut     string            `yaml:"check_out"`
	TotalAmount  string            `yaml:"total_amount"`
	Currency     string            `yaml:"currency"`
	Phone        string            `yaml:"phone"`
	Email        string            `yaml:"email"`
	StatusValues map[string]string `yaml:"status_values"`
}

func (s mappingSpec) compile(provider string) (FieldMapping, error) {
	if strings.TrimSpace(s.EventID) == "" || strings.TrimSpace(s.EventType) == "" {
		return FieldMapping{}, fmt.Errorf("provider %q: event_id and event_type paths are required", provider)
	}
	for tok, status := range s.StatusValues {
		if !domain.IsBookingStatus(status) {
			return FieldMapping{}, fmt.Errorf("provider %q: status %q maps to unknown state %q", provider, tok, status)
		}
	}
	return FieldMapping{
		EventID:      ParsePath(s.EventID),
		EventType:    ParsePath(s.EventType),
		ApartmentID:  ParsePath(s.ApartmentID),
		CheckIn:      ParsePath(s.CheckIn),
		CheckOut:     ParsePath(s.CheckOut),
		TotalAmount:  ParsePath(s.TotalAmount),
		Currency:     ParsePath(s.Currency),
		Phone:        ParsePath(s.Phone),
		Email:        ParsePath(s.Email),
		StatusValues: s.StatusValues,
	}, nil
}

// ParseRegistry decodes a YAML provider table and merges it over the
// built-in providers. File entries replace built-ins with the same id.
func ParseRegistry(data []byte) (*Registry, error) {
	var f mappingFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("providers file: %w", err)
	}
	r := NewRegistry()
	for id, spec := range f.Providers {
		if ProviderKey(id) == "" {
			return nil, fmt.Errorf("providers file: empty provider id")
		}
		m, err := spec.compile(id)
		if err != nil {
			return nil, fmt.Errorf("providers file: %w", err)
		}
		r.Register(id, m)
	}
	return r, nil
}

// LoadRegistry builds the registry from the built-ins plus path, if set.
func LoadRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return NewRegistry(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRegistry(data)
}
