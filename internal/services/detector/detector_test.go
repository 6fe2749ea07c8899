package detector

import (
	"testing"
	"time"

	"PricePulse/internal/domain/models"
)

func TestClassifyTable(t *testing.T) {
	cases := []struct {
		pct  float64
		want models.Severity
		ok   bool
	}{
		{0, 0, false},
		{1.99, 0, false},
		{-1.99, 0, false},
		{2, models.SeverityLow, true},
		{4.99, models.SeverityLow, true},
		{5, models.SeverityMedium, true},
		{-7, models.SeverityMedium, true},
		{10, models.SeverityHigh, true},
		{19.99, models.SeverityHigh, true},
		{20, models.SeverityCritical, true},
		{-55, models.SeverityCritical, true},
	}
	for _, c := range cases {
		got, ok := Classify(c.pct)
		if ok != c.ok || got != c.want {
			t.Errorf("Classify(%v) = %v,%v want %v,%v", c.pct, got, ok, c.want, c.ok)
		}
	}
}

func TestClassifySymmetric(t *testing.T) {
	for pct := 0.0; pct < 40; pct += 0.25 {
		up, okUp := Classify(pct)
		down, okDown := Classify(-pct)
		if up != down || okUp != okDown {
			t.Fatalf("asymmetric at %v: %v/%v vs %v/%v", pct, up, okUp, down, okDown)
		}
	}
}

func TestDetectFirstObservationIsBaseline(t *testing.T) {
	d := New()
	obs := models.Observation{ProductID: "p1", Competitor: "acme", Price: 100, Timestamp: time.Now()}
	if alert := d.Detect(obs, nil); alert != nil {
		t.Fatalf("expected no alert for first sighting, got %+v", alert)
	}
}

func TestDetectChangePercentExact(t *testing.T) {
	d := New(WithIDGenerator(func() string { return "fixed" }))
	pairs := [][2]float64{{100, 112}, {80, 60}, {33.33, 40}, {10, 10.5}}
	for _, p := range pairs {
		prior := models.Observation{ProductID: "p1", Competitor: "acme", Price: p[0]}
		cur := models.Observation{ProductID: "p1", Competitor: "acme", Price: p[1], Timestamp: time.Now()}
		alert := d.Detect(cur, &prior)
		want := (p[1] - p[0]) / p[0] * 100
		if alert == nil {
			t.Fatalf("expected alert for %v -> %v", p[0], p[1])
		}
		if alert.ChangePercent != want {
			t.Fatalf("changePercent = %v want %v", alert.ChangePercent, want)
		}
		sev, _ := Classify(want)
		if alert.Severity != sev || alert.ID != "fixed" {
			t.Fatalf("unexpected alert %+v", alert)
		}
	}
}

func TestDetectSmallMoveNoAlert(t *testing.T) {
	d := New()
	prior := models.Observation{Price: 100}
	cur := models.Observation{Price: 101.5, Timestamp: time.Now()}
	if alert := d.Detect(cur, &prior); alert != nil {
		t.Fatalf("expected no alert, got %+v", alert)
	}
}
