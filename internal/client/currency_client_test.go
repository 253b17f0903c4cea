package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/expenza/be-expenses/internal/config"
)

func newTestClient(serverURL string) *CurrencyClient {
	return NewCurrencyClient(config.CurrencyConfig{
		BaseURL:    serverURL,
		Timeout:    time.Second,
		CacheTTL:   time.Minute,
		RatePerSec: 100,
	}, zerolog.Nop())
}

func TestConvertSameCurrencySkipsFetch(t *testing.T) {
	c := newTestClient("http://unreachable.invalid")

	amount := decimal.NewFromInt(42)
	got, err := c.Convert(context.Background(), amount, "USD", "USD")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if !got.Equal(amount) {
		t.Fatalf("got %s, want %s", got, amount)
	}
}

func TestConvertUsesFetchedRate(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/EUR" {
			t.Errorf("path = %s, want /EUR", r.URL.Path)
		}
		w.Write([]byte(`{"base":"EUR","rates":{"USD":1.25,"GBP":0.85}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	got, err := c.Convert(context.Background(), decimal.NewFromInt(100), "EUR", "USD")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if want := decimal.NewFromInt(125); !got.Equal(want) {
		t.Fatalf("got %s, want %s", got, want)
	}

	// The second conversion from the same base hits the cache.
	if _, err := c.Convert(context.Background(), decimal.NewFromInt(10), "EUR", "GBP"); err != nil {
		t.Fatalf("Convert (cached): %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single upstream call, got %d", calls)
	}
}

func TestConvertUnknownTargetCurrency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"base":"EUR","rates":{"USD":1.25}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if _, err := c.Convert(context.Background(), decimal.NewFromInt(1), "EUR", "XXX"); err == nil {
		t.Fatal("expected an error for an unknown target currency")
	}
}

func TestConvertUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if _, err := c.Convert(context.Background(), decimal.NewFromInt(1), "EUR", "USD"); err == nil {
		t.Fatal("expected an error when the rate API fails")
	}
}
