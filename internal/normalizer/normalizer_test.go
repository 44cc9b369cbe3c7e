package normalizer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func normalize(t *testing.T, n *Normalizer, provider, payload string) Event {
	t.Helper()
	ev, err := n.Normalize(context.Background(), provider, mustParse(t, payload))
	if err != nil {
		t.Fatalf("Normalize(%s): %v", provider, err)
	}
	return ev
}

func TestNormalize_HomeReserve(t *testing.T) {
	ev := normalize(t, New(nil), "homereserve", `{
		"booking_id": "BK-12345",
		"status": "paid",
		"apartment_id": 42,
		"check_in_date": "2024-02-15",
		"check_out_date": "2024-02-17",
		"price": 5000,
		"currency": "rub",
		"guest_phone": "+79001234567",
		"guest_email": "guest@example.com"
	}`)

	if ev.Provider != "homereserve" || ev.EventID != "BK-12345" || ev.EventType != "paid" {
		t.Fatalf("identity fields unexpected: %+v", ev)
	}
	if ev.ApartmentID == nil || *ev.ApartmentID != 42 || ev.TotalAmount == nil || *ev.TotalAmount != 5000 {
		t.Fatalf("numeric fields unexpected: %+v", ev)
	}
	if ev.CheckIn != "2024-02-15" || ev.CheckOut != "2024-02-17" {
		t.Fatalf("dates unexpected: %+v", ev)
	}
	if ev.Currency != "RUB" || ev.Phone != "+79001234567" || ev.Email != "guest@example.com" {
		t.Fatalf("contact/currency unexpected: %+v", ev)
	}
}

func TestNormalize_StatusMapping(t *testing.T) {
	n := New(nil)
	cases := []struct {
		provider, payload, want string
	}{
		{"homereserve", `{"status": "paid"}`, "paid"},
		{"homereserve", `{"status": "cancelled"}`, "canceled"},
		{"homereserve", `{"status": "NoShow"}`, "noshow"},
		{"homereserve", `{"status": ""}`, "unknown"},
		{"homereserve", `{}`, "unknown"},
		{"booking_com", `{"event_type": "RESERVATION_CONFIRMED"}`, "confirmed"},
		{"booking_com", `{"event_type": "PAYMENT_RECEIVED"}`, "paid"},
		{"booking_com", `{"event_type": "RESERVATION_CANCELLED"}`, "canceled"},
		{"booking_com", `{"event_type": "RESERVATION_MODIFIED"}`, "reservation_modified"},
	}
	for _, c := range cases {
		if got := normalize(t, n, c.provider, c.payload).EventType; got != c.want {
			t.Fatalf("%s %s: event_type = %q; want %q", c.provider, c.payload, got, c.want)
		}
	}
}

func TestNormalize_Defaults_AndBestEffortNumbers(t *testing.T) {
	ev := normalize(t, New(nil), "booking_com", `{
		"reservation_id": 777,
		"property_id": "n/a",
		"total_price": "12000"
	}`)
	if ev.EventID != "777" {
		t.Fatalf("numeric id should render as text, got %q", ev.EventID)
	}
	if ev.ApartmentID != nil {
		t.Fatalf("non-numeric apartment id should be absent, got %v", *ev.ApartmentID)
	}
	if ev.TotalAmount == nil || *ev.TotalAmount != 12000 {
		t.Fatalf("numeric string amount should parse")
	}
	if ev.Currency != DefaultCurrency {
		t.Fatalf("currency default = %q", ev.Currency)
	}
	if ev.Phone != "" || ev.Email != "" || ev.CheckIn != "" {
		t.Fatalf("missing fields should be empty: %+v", ev)
	}

	odd := normalize(t, New(nil), "homereserve", `{"currency": "points"}`)
	if odd.Currency != "points" {
		t.Fatalf("unrecognized currency should pass through, got %q", odd.Currency)
	}
}

func TestNormalize_UnknownProvider(t *testing.T) {
	_, err := New(nil).Normalize(context.Background(), "nope", mustParse(t, `{"booking_id": "X"}`))
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestNormalize_ProviderIDCaseInsensitive(t *testing.T) {
	ev := normalize(t, New(nil), " HomeReserve ", `{"booking_id": "A"}`)
	if ev.Provider != "homereserve" || ev.EventID != "A" {
		t.Fatalf("unexpected: %+v", ev)
	}
}

const providersYAML = `
providers:
  airbnb:
    event_id: reservation.code
    event_type: reservation.status
    total_amount: reservation.payout.amount
    currency: reservation.payout.currency
    phone: guest.phone
    status_values:
      ACCEPTED: confirmed
      PAID_OUT: paid
`

func TestParseRegistry_AddsProvider(t *testing.T) {
	reg, err := ParseRegistry([]byte(providersYAML))
	if err != nil {
		t.Fatalf("ParseRegistry: %v", err)
	}
	if want := []string{"airbnb", "booking_com", "homereserve"}; !reflect.DeepEqual(reg.Providers(), want) {
		t.Fatalf("providers = %v; want %v", reg.Providers(), want)
	}

	ev := normalize(t, New(reg), "airbnb", `{
		"reservation": {"code": "HM1", "status": "PAID_OUT", "payout": {"amount": 9100.5, "currency": "EUR"}},
		"guest": {"phone": "+33 1"}
	}`)
	if ev.EventID != "HM1" || ev.EventType != "paid" || ev.TotalAmount == nil || *ev.TotalAmount != 9100 ||
		ev.Currency != "EUR" || ev.Phone != "+33 1" {
		t.Fatalf("unexpected airbnb event: %+v", ev)
	}
}

func TestParseRegistry_Invalid(t *testing.T) {
	bad := []string{
		"providers: [",
		"providers:\n  x:\n    event_type: s\n",
		"providers:\n  x:\n    event_id: id\n    event_type: s\n    status_values:\n      A: refunded\n",
	}
	for _, in := range bad {
		if _, err := ParseRegistry([]byte(in)); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestLoadRegistry(t *testing.T) {
	reg, err := LoadRegistry("")
	if err != nil || len(reg.Providers()) != 2 {
		t.Fatalf("built-ins only: %v %v", reg.Providers(), err)
	}

	path := filepath.Join(t.TempDir(), "providers.yaml")
	if err := os.WriteFile(path, []byte(providersYAML), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	reg, err = LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	if _, ok := reg.Get("airbnb"); !ok {
		t.Fatalf("airbnb should be registered")
	}

	if _, err := LoadRegistry(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestParsePath(t *testing.T) {
	if p := ParsePath(" a.b.c "); !reflect.DeepEqual(p, Path{"a", "b", "c"}) || p.String() != "a.b.c" {
		t.Fatalf("ParsePath = %#v", p)
	}
	if ParsePath("") != nil {
		t.Fatalf("empty path should be nil")
	}
}
