// Package source implements ObservationSource against competitor endpoints.
package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"PricePulse/internal/domain/models"
)

// URLResolver maps a (product, competitor) pair to the URL that prices it.
type URLResolver struct {
	baseURL   string
	templates map[string]string
}

// NewURLResolver uses per-competitor templates when present and falls back to
// baseURL/competitors/{competitor}/products/{product}. Templates may contain
// {product} and {competitor}.
func NewURLResolver(baseURL string, templates map[string]string) *URLResolver {
	return &URLResolver{baseURL: strings.TrimRight(baseURL, "/"), templates: templates}
}

func (r *URLResolver) Resolve(productID, competitor string) (string, error) {
	tpl, ok := r.templates[competitor]
	if !ok {
		if r.baseURL == "" {
			return "", fmt.Errorf("no endpoint for competitor %q: %w", competitor, models.ErrSourceUnavailable)
		}
		tpl = r.baseURL + "/competitors/{competitor}/products/{product}"
	}
	return strings.NewReplacer(
		"{product}", url.PathEscape(productID),
		"{competitor}", url.PathEscape(competitor),
	).Replace(tpl), nil
}

// classify folds transport failures into the two recoverable source errors.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrSourceTimeout) || errors.Is(err, models.ErrSourceUnavailable) {
		return err
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded ||
		(errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %v", models.ErrSourceTimeout, err)
	}
	return fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
}
