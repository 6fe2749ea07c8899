package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"PricePulse/internal/domain/models"
	xhttp "PricePulse/pkg/http"
)

func TestURLResolver(t *testing.T) {
	r := NewURLResolver("http://prices.local/", map[string]string{
		"acme": "https://acme.example/p/{product}",
	})
	got, err := r.Resolve("sku 1", "acme")
	if err != nil || got != "https://acme.example/p/sku%201" {
		t.Fatalf("template resolve = %q, %v", got, err)
	}
	got, _ = r.Resolve("sku-1", "globex")
	if got != "http://prices.local/competitors/globex/products/sku-1" {
		t.Fatalf("fallback resolve = %q", got)
	}
	if _, err := NewURLResolver("", nil).Resolve("sku-1", "x"); !errors.Is(err, models.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestStaticSourceDeterministic(t *testing.T) {
	a := NewStaticSource(7)
	b := NewStaticSource(7)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		oa, _ := a.Fetch(ctx, "sku-1", "acme")
		ob, _ := b.Fetch(ctx, "sku-1", "acme")
		if oa.Price != ob.Price || oa.Available != ob.Available {
			t.Fatalf("same seed diverged at %d: %v vs %v", i, oa.Price, ob.Price)
		}
		if oa.Price <= 0 || oa.Validate() != nil {
			t.Fatalf("invalid observation %+v", oa)
		}
	}
}

func TestStaticSourceBasePrice(t *testing.T) {
	s := NewStaticSource(1, WithVolatility(0), WithBasePrice("sku-1", "acme", 42.5))
	o, err := s.Fetch(context.Background(), "sku-1", "acme")
	if err != nil || o.Price != 42.5 {
		t.Fatalf("pinned price = %v, %v", o.Price, err)
	}
}

func TestHTTPSourceParsesQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/competitors/acme/products/sku-1" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"price": 97.5, "currency": "USD", "availability": false, "confidence": 0.7}`))
	}))
	defer srv.Close()

	s := NewHTTPSource(xhttp.NewClient(), NewURLResolver(srv.URL, nil))
	o, err := s.Fetch(context.Background(), "sku-1", "acme")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if o.Price != 97.5 || o.Available || o.Confidence != 0.7 || o.Competitor != "acme" {
		t.Fatalf("unexpected observation %+v", o)
	}

	if _, err := s.Fetch(context.Background(), "sku-2", "acme"); !errors.Is(err, models.ErrSourceUnavailable) {
		t.Fatalf("404 should map to ErrSourceUnavailable, got %v", err)
	}
}

func TestHTTPSourceTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	s := NewHTTPSource(xhttp.NewClient(), NewURLResolver(srv.URL, nil))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Fetch(ctx, "sku-1", "acme"); !errors.Is(err, models.ErrSourceTimeout) {
		t.Fatalf("expected ErrSourceTimeout, got %v", err)
	}
}

const productPage = `<html><body>
<div itemscope itemtype="https://schema.org/Offer">
  <span itemprop="price" content="1299.00">$1,299.00</span>
  <meta itemprop="priceCurrency" content="USD">
  <link itemprop="availability" href="https://schema.org/OutOfStock">
</div></body></html>`

func TestHTMLSourceScrapesSelectors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(productPage))
	}))
	defer srv.Close()

	s := NewHTMLSource(NewURLResolver(srv.URL, nil), time.Second, 0, "test-agent",
		WithSelectors("[itemprop=price]", "[itemprop=availability]"))
	o, err := s.Fetch(context.Background(), "sku-1", "acme")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if o.Price != 1299 || o.Currency != "USD" || o.Available || o.Confidence != scrapedConfidence {
		t.Fatalf("unexpected observation %+v", o)
	}
}

func TestHTMLSourceMissingPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body>no offer</body></html>`))
	}))
	defer srv.Close()

	s := NewHTMLSource(NewURLResolver(srv.URL, nil), time.Second, 0, "test-agent")
	if _, err := s.Fetch(context.Background(), "sku-1", "acme"); !errors.Is(err, models.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestParsePrice(t *testing.T) {
	cases := map[string]float64{
		"$1,299.99":  1299.99,
		"1.299,99 €": 1299.99,
		"1,299":      1299,
		"  42 ":      42,
		"19,5":       19.5,
	}
	for in, want := range cases {
		got, ok := ParsePrice(in)
		if !ok || got != want {
			t.Errorf("ParsePrice(%q) = %v, %v; want %v", in, got, ok, want)
		}
	}
	for _, bad := range []string{"", "free", "0.00"} {
		if _, ok := ParsePrice(bad); ok {
			t.Errorf("ParsePrice(%q) should fail", bad)
		}
	}
}
