package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"PricePulse/internal/domain/models"
	pkgch "PricePulse/pkg/clickhouse"
	applogger "PricePulse/pkg/logger"
)

var clickhouseSchema = []string{
	`CREATE TABLE IF NOT EXISTS price_observations (
		ts DateTime64(3, 'UTC'),
		product_id LowCardinality(String),
		competitor LowCardinality(String),
		price Float64,
		currency LowCardinality(String),
		available UInt8,
		confidence Float32
	) ENGINE = MergeTree
	PARTITION BY toYYYYMM(ts)
	ORDER BY (product_id, ts, competitor)`,
	`CREATE TABLE IF NOT EXISTS price_alerts (
		ts DateTime64(3, 'UTC'),
		id String,
		product_id LowCardinality(String),
		competitor LowCardinality(String),
		old_price Float64,
		new_price Float64,
		change_percent Float64,
		severity UInt8
	) ENGINE = MergeTree
	PARTITION BY toYYYYMM(ts)
	ORDER BY (product_id, ts)`,
}

// ClickHouseStore holds observation and alert history in ClickHouse.
type ClickHouseStore struct {
	client *pkgch.Client
	db     *sql.DB
	l      *applogger.Logger
}

func NewClickHouseStore(client *pkgch.Client, l *applogger.Logger) *ClickHouseStore {
	if l == nil {
		l = applogger.NewNop()
	}
	return &ClickHouseStore{client: client, db: client.DB(), l: l}
}

var _ SeriesStore = (*ClickHouseStore)(nil)

func (s *ClickHouseStore) Init(ctx context.Context) error {
	return s.client.InitSchema(ctx, clickhouseSchema)
}

func (s *ClickHouseStore) Health(ctx context.Context) error { return s.client.Health(ctx) }

func (s *ClickHouseStore) Close() error { return s.client.Close() }

func (s *ClickHouseStore) AppendObservation(ctx context.Context, o models.Observation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_observations (ts, product_id, competitor, price, currency, available, confidence) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.Timestamp.UTC(), o.ProductID, o.Competitor, o.Price, o.Currency, uint8(boolInt(o.Available)), float32(o.Confidence))
	if err != nil {
		s.l.Error("clickhouse insert observation",
			applogger.String("product_id", o.ProductID),
			applogger.String("competitor", o.Competitor),
			applogger.Error(err))
		return fmt.Errorf("append observation: %w", err)
	}
	return nil
}

func (s *ClickHouseStore) Observations(ctx context.Context, productID string, since time.Time, limit int) ([]models.Observation, error) {
	q := `SELECT ts, product_id, competitor, price, currency, available, confidence
		FROM price_observations WHERE product_id = ? AND ts >= ?
		ORDER BY ts DESC, competitor DESC`
	args := []interface{}{productID, since.UTC()}
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("clickhouse query observations", applogger.String("product_id", productID), applogger.Error(err))
		return nil, fmt.Errorf("query observations: %w", err)
	}
	out, err := scanCHObservations(rows)
	if err != nil {
		return nil, err
	}
	sortObservations(out)
	return out, nil
}

func scanCHObservations(rows *sql.Rows) ([]models.Observation, error) {
	defer rows.Close()
	var out []models.Observation
	for rows.Next() {
		var (
			o          models.Observation
			available  uint8
			confidence float32
		)
		if err := rows.Scan(&o.Timestamp, &o.ProductID, &o.Competitor, &o.Price, &o.Currency, &available, &confidence); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		o.Available = available != 0
		o.Confidence = float64(confidence)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *ClickHouseStore) LatestObservations(ctx context.Context, productID string) (map[string]models.Observation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT max(ts), product_id, competitor,
			argMax(price, ts), argMax(currency, ts), argMax(available, ts), argMax(confidence, ts)
		FROM price_observations WHERE product_id = ?
		GROUP BY product_id, competitor`, productID)
	if err != nil {
		return nil, fmt.Errorf("latest observations: %w", err)
	}
	obs, err := scanCHObservations(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.Observation, len(obs))
	for _, o := range obs {
		out[o.Competitor] = o
	}
	return out, nil
}

func (s *ClickHouseStore) AppendAlert(ctx context.Context, a models.PriceAlert) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_alerts (ts, id, product_id, competitor, old_price, new_price, change_percent, severity) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Timestamp.UTC(), a.ID, a.ProductID, a.Competitor, a.OldPrice, a.NewPrice, a.ChangePercent, uint8(a.Severity))
	if err != nil {
		return fmt.Errorf("append alert: %w", err)
	}
	return nil
}

func (s *ClickHouseStore) Alerts(ctx context.Context, productID string, since time.Time, limit int) ([]models.PriceAlert, error) {
	q := `SELECT ts, id, product_id, competitor, old_price, new_price, change_percent, severity
		FROM price_alerts WHERE product_id = ? AND ts >= ? ORDER BY ts DESC`
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, q, productID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()
	var out []models.PriceAlert
	for rows.Next() {
		var (
			a   models.PriceAlert
			sev uint8
		)
		if err := rows.Scan(&a.Timestamp, &a.ID, &a.ProductID, &a.Competitor, &a.OldPrice, &a.NewPrice, &a.ChangePercent, &sev); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Severity = models.Severity(sev)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
