package features

import (
	"math"
	"sort"
	"time"

	"PricePulse/internal/domain/models"
	"PricePulse/pkg/util"
)

// Point is one sample of a time series, X in days since the first sample.
type Point struct {
	X float64
	Y float64
}

// SeriesFromObservations converts observations to points using valueOf.
// The X axis is measured in days relative to origin.
func SeriesFromObservations(obs []models.Observation, origin time.Time, valueOf func(models.Observation) float64) []Point {
	out := make([]Point, 0, len(obs))
	for _, o := range obs {
		out = append(out, Point{
			X: util.DaysBetween(origin, o.Timestamp),
			Y: valueOf(o),
		})
	}
	return out
}

// LinearSlope fits y = a + b*x by least squares and returns b.
// ok is false when fewer than two points exist or all X are equal.
func LinearSlope(points []Point) (slope float64, ok bool) {
	n := float64(len(points))
	if n < 2 {
		return 0, false
	}
	var sx, sy float64
	for _, p := range points {
		sx += p.X
		sy += p.Y
	}
	mx, my := sx/n, sy/n
	var num, den float64
	for _, p := range points {
		dx := p.X - mx
		num += dx * (p.Y - my)
		den += dx * dx
	}
	if den == 0 {
		return 0, false
	}
	return num / den, true
}

func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// WeightedMean ignores non-positive weights. ok is false when no weight remains.
func WeightedMean(values, weights []float64) (float64, bool) {
	var sum, wsum float64
	for i, v := range values {
		if i >= len(weights) || weights[i] <= 0 {
			continue
		}
		sum += v * weights[i]
		wsum += weights[i]
	}
	if wsum == 0 {
		return 0, false
	}
	return sum / wsum, true
}

func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

// PercentileRank is the empirical rank of v in values, 0..100, counting ties as half.
func PercentileRank(v float64, values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var below, equal float64
	for _, x := range values {
		switch {
		case x < v:
			below++
		case x == v:
			equal++
		}
	}
	return (below + 0.5*equal) / float64(len(values)) * 100
}

func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// LatestByCompetitor keeps the newest observation for each competitor.
func LatestByCompetitor(obs []models.Observation) map[string]models.Observation {
	out := make(map[string]models.Observation)
	for _, o := range obs {
		if cur, ok := out[o.Competitor]; !ok || !o.Timestamp.Before(cur.Timestamp) {
			out[o.Competitor] = o
		}
	}
	return out
}

// GroupByCompetitor splits observations per competitor, preserving order.
func GroupByCompetitor(obs []models.Observation) map[string][]models.Observation {
	out := make(map[string][]models.Observation)
	for _, o := range obs {
		out[o.Competitor] = append(out[o.Competitor], o)
	}
	return out
}

// SortedKeys returns map keys in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
