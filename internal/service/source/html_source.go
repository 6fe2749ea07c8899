package source

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"PricePulse/internal/domain/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

// scrapedConfidence reflects that markup scraping is less reliable than a structured feed.
const scrapedConfidence = 0.8

// HTMLSource scrapes a product page and reads the price with CSS selectors.
type HTMLSource struct {
	client               *resty.Client
	resolver             *URLResolver
	priceSelector        string
	availabilitySelector string
	now                  func() time.Time
}

type HTMLOption func(*HTMLSource)

func WithSelectors(price, availability string) HTMLOption {
	return func(s *HTMLSource) {
		if price != "" {
			s.priceSelector = price
		}
		s.availabilitySelector = availability
	}
}

func WithRestyClient(c *resty.Client) HTMLOption {
	return func(s *HTMLSource) { s.client = c }
}

func NewHTMLSource(resolver *URLResolver, timeout time.Duration, retries int, userAgent string, opts ...HTMLOption) *HTMLSource {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(250*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "text/html").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})
	s := &HTMLSource{
		client:        client,
		resolver:      resolver,
		priceSelector: "[itemprop=price]",
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTMLSource) Fetch(ctx context.Context, productID, competitor string) (models.Observation, error) {
	endpoint, err := s.resolver.Resolve(productID, competitor)
	if err != nil {
		return models.Observation{}, err
	}
	resp, err := s.client.R().SetContext(ctx).Get(endpoint)
	if err != nil {
		return models.Observation{}, classify(ctx, fmt.Errorf("scrape %s: %w", endpoint, err))
	}
	if resp.StatusCode() != http.StatusOK {
		return models.Observation{}, fmt.Errorf("scrape %s: status %d: %w", endpoint, resp.StatusCode(), models.ErrSourceUnavailable)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
	if err != nil {
		return models.Observation{}, fmt.Errorf("parse %s: %v: %w", endpoint, err, models.ErrSourceUnavailable)
	}
	sel := doc.Find(s.priceSelector).First()
	raw := strings.TrimSpace(sel.AttrOr("content", sel.Text()))
	price, ok := ParsePrice(raw)
	if !ok {
		return models.Observation{}, fmt.Errorf("no price at %q on %s: %w", s.priceSelector, endpoint, models.ErrSourceUnavailable)
	}

	return models.Observation{
		ProductID:  productID,
		Competitor: competitor,
		Price:      price,
		Currency:   strings.TrimSpace(doc.Find("[itemprop=priceCurrency]").First().AttrOr("content", "")),
		Available:  s.available(doc),
		Timestamp:  s.now().UTC(),
		Confidence: scrapedConfidence,
	}, nil
}

// available treats a missing marker as in stock.
func (s *HTMLSource) available(doc *goquery.Document) bool {
	if s.availabilitySelector == "" {
		return true
	}
	sel := doc.Find(s.availabilitySelector).First()
	if sel.Length() == 0 {
		return true
	}
	v := strings.ToLower(sel.AttrOr("href", sel.AttrOr("content", sel.Text())))
	for _, marker := range []string{"outofstock", "out of stock", "soldout", "sold out", "discontinued", "unavailable"} {
		if strings.Contains(v, marker) {
			return false
		}
	}
	return true
}

// ParsePrice extracts a positive amount from text like "$1,299.99" or "1.299,99 €".
func ParsePrice(s string) (float64, bool) {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	num := b.String()
	if num == "" {
		return 0, false
	}
	lastDot, lastComma := strings.LastIndex(num, "."), strings.LastIndex(num, ",")
	switch {
	case lastComma > lastDot && len(num)-lastComma-1 <= 2:
		// comma is the decimal separator
		num = strings.ReplaceAll(num[:lastComma], ".", "") + "." + num[lastComma+1:]
		num = strings.ReplaceAll(num, ",", "")
	default:
		num = strings.ReplaceAll(num, ",", "")
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
