package normalizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"

	"github.com/tbourn/go-rental-funnel/internal/domain"
)

// ErrUnknownProvider is returned when no mapping is registered for a provider.
var ErrUnknownProvider = errors.New("unknown provider")

// DefaultCurrency applies when the payload carries no currency.
const DefaultCurrency = "RUB"

// Event is the canonical, provider-independent view of one webhook payload.
// Empty strings mean the field was absent.
type Event struct {
	Provider    string `json:"provider"`
	EventID     string `json:"event_id,omitempty"`
	EventType   string `json:"event_type"`
	ApartmentID *int64 `json:"apartment_id,omitempty"`
	CheckIn     string `json:"check_in,omitempty"`
	CheckOut    string `json:"check_out,omitempty"`
	TotalAmount *int64 `json:"total_amount,omitempty"`
	Currency    string `json:"currency"`
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Normalizer applies registry mappings to parsed documents.
type Normalizer struct {
	reg *Registry
}

// New returns a Normalizer reading mappings from reg. A nil reg uses the
// built-in providers only.
func New(reg *Registry) *Normalizer {
	if reg == nil {
		reg = NewRegistry()
	}
	return &Normalizer{reg: reg}
}

// Registry exposes the underlying provider table.
func (n *Normalizer) Registry() *Registry { return n.reg }

// Normalize maps doc through the provider's field mapping. An unregistered
// provider yields ErrUnknownProvider; missing or mistyped fields never fail.
func (n *Normalizer) Normalize(ctx context.Context, provider string, doc Document) (Event, error) {
	log := zerolog.Ctx(ctx)

	m, ok := n.reg.Get(provider)
	if !ok {
		log.Warn().Str("provider", provider).Msg("webhook normalize: unknown provider")
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}

	ev := Event{
		Provider:    ProviderKey(provider),
		EventID:     text(doc, m.EventID),
		EventType:   eventType(text(doc, m.EventType), m.StatusValues),
		ApartmentID: integer(doc, m.ApartmentID),
		CheckIn:     text(doc, m.CheckIn),
		CheckOut:    text(doc, m.CheckOut),
		TotalAmount: integer(doc, m.TotalAmount),
		Currency:    currencyCode(text(doc, m.Currency)),
		Phone:       text(doc, m.Phone),
		Email:       text(doc, m.Email),
	}

	log.Debug().
		Str("provider", ev.Provider).
		Str("event_id", ev.EventID).
		Str("event_type", ev.EventType).
		Msg("webhook normalized")
	return ev, nil
}

func text(doc Document, p Path) string {
	v, ok := doc.Lookup(p)
	if !ok {
		return ""
	}
	s, _ := v.Text()
	return s
}

func integer(doc Document, p Path) *int64 {
	v, ok := doc.Lookup(p)
	if !ok {
		return nil
	}
	i, ok := v.Int()
	if !ok {
		return nil
	}
	return &i
}

// eventType maps a provider token to the canonical vocabulary. Unmapped
// tokens pass through lower-cased.
func eventType(tok string, statusValues map[string]string) string {
	if tok == "" {
		return domain.EventTypeUnknown
	}
	if v, ok := statusValues[tok]; ok {
		return v
	}
	// Casers carry state; one per call.
	return cases.Lower(language.Und).String(tok)
}

// currencyCode canonicalizes recognized ISO 4217 codes and keeps anything
// else verbatim.
func currencyCode(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultCurrency
	}
	if u, err := currency.ParseISO(strings.ToUpper(s)); err == nil {
		return u.String()
	}
	return s
}
