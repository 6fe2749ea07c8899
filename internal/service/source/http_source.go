package source

import (
	"context"
	"fmt"
	"time"

	"PricePulse/internal/domain/models"
	xhttp "PricePulse/pkg/http"
)

// quote is the JSON body a competitor price endpoint returns.
type quote struct {
	Price      float64    `json:"price"`
	Currency   string     `json:"currency"`
	Available  *bool      `json:"availability"`
	InStock    *bool      `json:"inStock"`
	Timestamp  *time.Time `json:"timestamp"`
	Confidence *float64   `json:"confidence"`
}

// HTTPSource fetches JSON quotes through the shared retrying client.
type HTTPSource struct {
	client   *xhttp.Client
	resolver *URLResolver
	now      func() time.Time
}

func NewHTTPSource(client *xhttp.Client, resolver *URLResolver) *HTTPSource {
	return &HTTPSource{client: client, resolver: resolver, now: time.Now}
}

func (s *HTTPSource) Fetch(ctx context.Context, productID, competitor string) (models.Observation, error) {
	endpoint, err := s.resolver.Resolve(productID, competitor)
	if err != nil {
		return models.Observation{}, err
	}
	var q quote
	if err := s.client.SendAndParse(ctx, &xhttp.RequestOptions{Method: "GET", URL: endpoint}, &q); err != nil {
		return models.Observation{}, classify(ctx, fmt.Errorf("fetch %s: %w", endpoint, err))
	}
	if q.Price <= 0 {
		return models.Observation{}, fmt.Errorf("%s returned price %.4f: %w", competitor, q.Price, models.ErrSourceUnavailable)
	}

	o := models.Observation{
		ProductID:  productID,
		Competitor: competitor,
		Price:      q.Price,
		Currency:   q.Currency,
		Available:  true,
		Timestamp:  s.now().UTC(),
		Confidence: 1,
	}
	switch {
	case q.Available != nil:
		o.Available = *q.Available
	case q.InStock != nil:
		o.Available = *q.InStock
	}
	if q.Timestamp != nil && !q.Timestamp.IsZero() {
		o.Timestamp = q.Timestamp.UTC()
	}
	if q.Confidence != nil && *q.Confidence >= 0 && *q.Confidence <= 1 {
		o.Confidence = *q.Confidence
	}
	return o, nil
}
