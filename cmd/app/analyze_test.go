package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"PricePulse/internal/domain/models"
	"PricePulse/pkg/config"
)

const sampleInput = `{
  "product": {"productId": "sku-1", "cost": 50, "currentPrice": 100, "currency": "USD", "unitsSold": 40},
  "observations": [
    {"competitor": "acme", "price": 92, "currency": "USD", "availability": true, "timestamp": "2026-04-10T08:00:00Z"},
    {"competitor": "globex", "price": 95, "currency": "USD", "availability": true, "timestamp": "2026-04-10T08:05:00Z"},
    {"competitor": "initech", "price": 98, "currency": "USD", "availability": true, "timestamp": "2026-04-10T08:10:00Z"}
  ]
}`

func writeInput(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}

func TestRunAnalyze(t *testing.T) {
	var out bytes.Buffer
	if err := runAnalyze(context.Background(), config.Default(), writeInput(t, sampleInput), "", &out); err != nil {
		t.Fatalf("runAnalyze: %v", err)
	}
	var intel models.Intelligence
	if err := json.Unmarshal(out.Bytes(), &intel); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	rec := intel.Recommendation
	if rec.CompetitorCount != 3 || rec.RecommendedPrice == nil {
		t.Fatalf("unexpected recommendation %+v", rec)
	}
	if *rec.RecommendedPrice >= 100 || *rec.RecommendedPrice < rec.FloorPrice {
		t.Fatalf("recommended %v outside (floor %v, current 100)", *rec.RecommendedPrice, rec.FloorPrice)
	}
	if len(intel.Observations) != 3 {
		t.Fatalf("observations = %d", len(intel.Observations))
	}
}

func TestRunAnalyzeStaleObservations(t *testing.T) {
	var out bytes.Buffer
	err := runAnalyze(context.Background(), config.Default(), writeInput(t, sampleInput), "2026-06-01", &out)
	if err != nil {
		t.Fatalf("runAnalyze: %v", err)
	}
	var intel models.Intelligence
	_ = json.Unmarshal(out.Bytes(), &intel)
	if intel.Recommendation.Confidence != models.ConfidenceLow {
		t.Fatalf("observations outside the window should give low confidence, got %s", intel.Recommendation.Confidence)
	}
}

func TestRunAnalyzeRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"parse input": `{`,
		"product":     `{"product": {"productId": "p", "cost": 1, "currentPrice": 0}}`,
		"observation": `{"product": {"productId": "p", "cost": 1, "currentPrice": 2}, "observations": [{"competitor": "a", "price": -1, "timestamp": "2026-01-01T00:00:00Z"}]}`,
	}
	for want, body := range cases {
		err := runAnalyze(context.Background(), config.Default(), writeInput(t, body), "", &bytes.Buffer{})
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Errorf("expected error containing %q, got %v", want, err)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out.String(), "pricepulse dev") {
		t.Fatalf("version output %q", out.String())
	}
}
