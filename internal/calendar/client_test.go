package calendar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFetchNormalizesMixedSchemas(t *testing.T) {
	body := `[
		{"currency": "usd", "timestamp": 1772978400, "impact": "High", "name": "CPI m/m", "forecast": 0.3, "previous": "0.2"},
		{"country": "euro zone", "date": "2026-03-10T14:00:00Z", "importance": "2", "title": "ECB Speech"},
		{"country": "narnia", "date": 1772978400, "impact": "High", "title": "no currency"},
		{"currency": "GBP", "impact": "High", "title": "no timestamp"},
		{"currency": "JPY", "timestamp": 1772978400, "impact": "High"}
	]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(body))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL, Timeout: 5 * time.Second})
	events, err := client.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 usable rows, got %d: %+v", len(events), events)
	}

	usd := events[0]
	if usd.Currency != "USD" || usd.Impact != ImpactHigh || usd.Name != "CPI m/m" {
		t.Errorf("bad USD row: %+v", usd)
	}
	if usd.Forecast != "0.3" || usd.Previous != "0.2" {
		t.Errorf("numeric fields not normalized: forecast=%q previous=%q", usd.Forecast, usd.Previous)
	}
	if !usd.Time.Equal(time.Unix(1772978400, 0).UTC()) {
		t.Errorf("bad unix time: %v", usd.Time)
	}

	eur := events[1]
	if eur.Currency != "EUR" || eur.Impact != ImpactMedium {
		t.Errorf("bad EUR row: %+v", eur)
	}
	if !eur.Time.Equal(time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)) {
		t.Errorf("bad RFC3339 time: %v", eur.Time)
	}
}

func TestFetchErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL, Timeout: 5 * time.Second})
	_, err := client.Fetch(context.Background())
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %T", err)
	}
	if fe.Status != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", fe.Status)
	}
}

func TestEventIDStableAcrossFetches(t *testing.T) {
	at := time.Date(2026, 3, 10, 13, 30, 0, 0, time.UTC)
	a := EventID("USD", at, "Nonfarm Payrolls")
	b := EventID("USD", at.In(time.FixedZone("EST", -5*3600)), "Nonfarm Payrolls")
	if a != b {
		t.Error("ID must not depend on timezone representation")
	}
	if a == EventID("EUR", at, "Nonfarm Payrolls") {
		t.Error("ID must depend on currency")
	}
}
