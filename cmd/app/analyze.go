package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"PricePulse/internal/di"
	"PricePulse/internal/domain/models"
	"PricePulse/internal/repository"
	"PricePulse/internal/services/portfolio"
	"PricePulse/internal/usecase"
	"PricePulse/pkg/config"
	applogger "PricePulse/pkg/logger"
	"PricePulse/pkg/util"
)

type analyzeInput struct {
	Product      models.Product       `json:"product"`
	Observations []models.Observation `json:"observations"`
	AsOf         string               `json:"asOf,omitempty"`
}

// runAnalyze loads the file into an in-memory store and prints the intelligence as JSON.
func runAnalyze(ctx context.Context, cfg *config.Config, path, asOfFlag string, out io.Writer) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	var in analyzeInput
	if err := json.Unmarshal(b, &in); err != nil {
		return fmt.Errorf("parse input: %w", err)
	}

	var newest time.Time
	for i := range in.Observations {
		o := &in.Observations[i]
		if o.ProductID == "" {
			o.ProductID = in.Product.ID
		}
		if o.Confidence == 0 {
			o.Confidence = 1
		}
		if o.Timestamp.After(newest) {
			newest = o.Timestamp
		}
	}
	if newest.IsZero() {
		newest = time.Now().UTC()
	}
	asOf := util.ParseTimeDefault(in.AsOf, newest)
	if asOfFlag != "" {
		t, ok := util.ParseTime(asOfFlag)
		if !ok {
			return fmt.Errorf("invalid --as-of %q", asOfFlag)
		}
		asOf = t
	}

	store := repository.NewMemoryStore()
	svc := usecase.NewIntelligenceService(store, di.ProvideAnalyzer(cfg), di.ProvideEngine(cfg), portfolio.NewAggregator(),
		nil, applogger.NewNop(),
		usecase.IntelligenceConfig{Window: cfg.Engine.Window, TopN: cfg.Engine.TopN},
		usecase.WithIntelligenceClock(func() time.Time { return asOf }),
	)
	if _, err := svc.UpsertProduct(ctx, in.Product); err != nil {
		return fmt.Errorf("product: %w", err)
	}
	for i, o := range in.Observations {
		if o.ProductID != in.Product.ID {
			return fmt.Errorf("observation %d belongs to %q, not %q", i, o.ProductID, in.Product.ID)
		}
		if err := o.Validate(); err != nil {
			return fmt.Errorf("observation %d: %w", i, err)
		}
		if err := store.AppendObservation(ctx, o); err != nil {
			return err
		}
	}

	intel, err := svc.GetCurrentIntelligence(ctx, in.Product.ID, usecase.IntelligenceQuery{})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(intel)
}
