package models

import (
	"fmt"
	"time"
)

// Severity is the ordinal size of a price change.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// Severities lists every severity in ascending order.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

func (s Severity) Valid() bool {
	return s >= SeverityLow && s <= SeverityCritical
}

func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown severity %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func ParseSeverity(v string) (Severity, error) {
	for _, s := range Severities {
		if s.String() == v {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q", v)
}

// PriceAlert is emitted when a competitor price moves enough to matter.
// Alerts are immutable once emitted.
type PriceAlert struct {
	ID            string    `json:"id"`
	ProductID     string    `json:"productId"`
	Competitor    string    `json:"competitor"`
	OldPrice      float64   `json:"oldPrice"`
	NewPrice      float64   `json:"newPrice"`
	ChangePercent float64   `json:"changePercent"`
	Severity      Severity  `json:"severity"`
	Timestamp     time.Time `json:"timestamp"`
}
