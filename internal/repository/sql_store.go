package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"PricePulse/internal/domain/models"
	domrepo "PricePulse/internal/domain/repository"
	applogger "PricePulse/pkg/logger"
	"PricePulse/pkg/sqldb"
	"PricePulse/pkg/util"
)

// Times are stored as unix millis and booleans as integers so one schema serves postgres and sqlite.
var sqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		cost DOUBLE PRECISION NOT NULL,
		current_price DOUBLE PRECISION NOT NULL,
		currency TEXT NOT NULL DEFAULT '',
		units_sold BIGINT NOT NULL DEFAULT 0,
		category TEXT NOT NULL DEFAULT '',
		historical_margin DOUBLE PRECISION,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS observations (
		product_id TEXT NOT NULL,
		competitor TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		currency TEXT NOT NULL DEFAULT '',
		available INTEGER NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		ts BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS observations_product_ts ON observations (product_id, ts)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		competitor TEXT NOT NULL,
		old_price DOUBLE PRECISION NOT NULL,
		new_price DOUBLE PRECISION NOT NULL,
		change_percent DOUBLE PRECISION NOT NULL,
		severity INTEGER NOT NULL,
		ts BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS alerts_product_ts ON alerts (product_id, ts)`,
	`CREATE TABLE IF NOT EXISTS tracking_jobs (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		competitors TEXT NOT NULL,
		interval_minutes INTEGER NOT NULL,
		state TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		stopped_at BIGINT NOT NULL DEFAULT 0,
		stats TEXT NOT NULL DEFAULT '{}'
	)`,
}

// SQLStore implements Store on postgres or sqlite.
type SQLStore struct {
	db *sqldb.DB
	l  *applogger.Logger
}

func NewSQLStore(db *sqldb.DB, l *applogger.Logger) *SQLStore {
	if l == nil {
		l = applogger.NewNop()
	}
	return &SQLStore{db: db, l: l}
}

var _ domrepo.Store = (*SQLStore)(nil)

func (s *SQLStore) Init(ctx context.Context) error {
	for _, stmt := range sqlSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init sql schema: %w", err)
		}
	}
	s.l.Info("sql schema ready", applogger.String("driver", s.db.Driver()))
	return nil
}

func (s *SQLStore) Health(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) exec(ctx context.Context, q string, args ...interface{}) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(q), args...)
	return err
}

func (s *SQLStore) query(ctx context.Context, q string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.db.Rebind(q), args...)
}

func (s *SQLStore) UpsertProduct(ctx context.Context, p models.Product) error {
	var hm sql.NullFloat64
	if p.HistoricalMargin != nil {
		hm = sql.NullFloat64{Float64: *p.HistoricalMargin, Valid: true}
	}
	err := s.exec(ctx, `INSERT INTO products (id, name, cost, current_price, currency, units_sold, category, historical_margin, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, cost = excluded.cost,
			current_price = excluded.current_price, currency = excluded.currency,
			units_sold = excluded.units_sold, category = excluded.category,
			historical_margin = excluded.historical_margin, updated_at = excluded.updated_at`,
		p.ID, p.Name, p.Cost, p.CurrentPrice, p.Currency, p.UnitsSold, p.Category, hm, util.UnixMilliOrZero(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

const productColumns = `id, name, cost, current_price, currency, units_sold, category, historical_margin, updated_at`

func scanProduct(sc interface{ Scan(...interface{}) error }) (models.Product, error) {
	var (
		p         models.Product
		hm        sql.NullFloat64
		updatedAt int64
	)
	if err := sc.Scan(&p.ID, &p.Name, &p.Cost, &p.CurrentPrice, &p.Currency, &p.UnitsSold, &p.Category, &hm, &updatedAt); err != nil {
		return p, err
	}
	if hm.Valid {
		v := hm.Float64
		p.HistoricalMargin = &v
	}
	p.UpdatedAt = util.FromUnixMilli(updatedAt)
	return p, nil
}

func (s *SQLStore) GetProduct(ctx context.Context, id string) (models.Product, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+productColumns+` FROM products WHERE id = ?`), id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("product %s: %w", id, models.ErrProductNotFound)
	}
	if err != nil {
		return p, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

func (s *SQLStore) ListProducts(ctx context.Context) ([]models.Product, error) {
	rows, err := s.query(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()
	var out []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLStore) AppendObservation(ctx context.Context, o models.Observation) error {
	err := s.exec(ctx, `INSERT INTO observations (product_id, competitor, price, currency, available, confidence, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.ProductID, o.Competitor, o.Price, o.Currency, boolInt(o.Available), o.Confidence, o.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("append observation: %w", err)
	}
	return nil
}

func (s *SQLStore) scanObservations(rows *sql.Rows) ([]models.Observation, error) {
	defer rows.Close()
	var out []models.Observation
	for rows.Next() {
		var (
			o         models.Observation
			available int
			ts        int64
		)
		if err := rows.Scan(&o.ProductID, &o.Competitor, &o.Price, &o.Currency, &available, &o.Confidence, &ts); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		o.Available = available != 0
		o.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *SQLStore) Observations(ctx context.Context, productID string, since time.Time, limit int) ([]models.Observation, error) {
	q := `SELECT product_id, competitor, price, currency, available, confidence, ts
		FROM observations WHERE product_id = ? AND ts >= ? ORDER BY ts DESC, competitor DESC`
	args := []interface{}{productID, util.UnixMilliOrZero(since)}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	out, err := s.scanObservations(rows)
	if err != nil {
		return nil, err
	}
	sortObservations(out)
	return out, nil
}

func (s *SQLStore) LatestObservations(ctx context.Context, productID string) (map[string]models.Observation, error) {
	rows, err := s.query(ctx, `SELECT o.product_id, o.competitor, o.price, o.currency, o.available, o.confidence, o.ts
		FROM observations o
		JOIN (SELECT competitor, MAX(ts) AS ts FROM observations WHERE product_id = ? GROUP BY competitor) m
			ON o.competitor = m.competitor AND o.ts = m.ts
		WHERE o.product_id = ?`, productID, productID)
	if err != nil {
		return nil, fmt.Errorf("latest observations: %w", err)
	}
	obs, err := s.scanObservations(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.Observation, len(obs))
	for _, o := range obs {
		out[o.Competitor] = o
	}
	return out, nil
}

func (s *SQLStore) AppendAlert(ctx context.Context, a models.PriceAlert) error {
	err := s.exec(ctx, `INSERT INTO alerts (id, product_id, competitor, old_price, new_price, change_percent, severity, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ProductID, a.Competitor, a.OldPrice, a.NewPrice, a.ChangePercent, int(a.Severity), a.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("append alert: %w", err)
	}
	return nil
}

func (s *SQLStore) Alerts(ctx context.Context, productID string, since time.Time, limit int) ([]models.PriceAlert, error) {
	q := `SELECT id, product_id, competitor, old_price, new_price, change_percent, severity, ts
		FROM alerts WHERE product_id = ? AND ts >= ? ORDER BY ts DESC`
	args := []interface{}{productID, util.UnixMilliOrZero(since)}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()
	var out []models.PriceAlert
	for rows.Next() {
		var (
			a   models.PriceAlert
			sev int
			ts  int64
		)
		if err := rows.Scan(&a.ID, &a.ProductID, &a.Competitor, &a.OldPrice, &a.NewPrice, &a.ChangePercent, &sev, &ts); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Severity = models.Severity(sev)
		a.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// newest-first from the query; callers expect oldest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLStore) SaveJob(ctx context.Context, job models.TrackingJob) error {
	competitors, err := json.Marshal(job.Competitors)
	if err != nil {
		return err
	}
	stats, err := json.Marshal(job.Stats)
	if err != nil {
		return err
	}
	var stoppedAt int64
	if job.StoppedAt != nil {
		stoppedAt = job.StoppedAt.UnixMilli()
	}
	err = s.exec(ctx, `INSERT INTO tracking_jobs (id, product_id, competitors, interval_minutes, state, created_at, stopped_at, stats)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET state = excluded.state, stopped_at = excluded.stopped_at, stats = excluded.stats`,
		job.ID, job.ProductID, string(competitors), job.IntervalMinutes, string(job.State),
		job.CreatedAt.UnixMilli(), stoppedAt, string(stats))
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

const jobColumns = `id, product_id, competitors, interval_minutes, state, created_at, stopped_at, stats`

func scanJob(sc interface{ Scan(...interface{}) error }) (models.TrackingJob, error) {
	var (
		j                    models.TrackingJob
		competitors, stats   string
		state                string
		createdAt, stoppedAt int64
	)
	if err := sc.Scan(&j.ID, &j.ProductID, &competitors, &j.IntervalMinutes, &state, &createdAt, &stoppedAt, &stats); err != nil {
		return j, err
	}
	if err := json.Unmarshal([]byte(competitors), &j.Competitors); err != nil {
		return j, fmt.Errorf("decode competitors: %w", err)
	}
	if err := json.Unmarshal([]byte(stats), &j.Stats); err != nil {
		return j, fmt.Errorf("decode stats: %w", err)
	}
	st, err := models.ParseJobState(state)
	if err != nil {
		return j, err
	}
	j.State = st
	j.Interval = time.Duration(j.IntervalMinutes) * time.Minute
	j.CreatedAt = time.UnixMilli(createdAt).UTC()
	if stoppedAt != 0 {
		t := time.UnixMilli(stoppedAt).UTC()
		j.StoppedAt = &t
	}
	return j, nil
}

func (s *SQLStore) GetJob(ctx context.Context, id string) (models.TrackingJob, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+jobColumns+` FROM tracking_jobs WHERE id = ?`), id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return j, fmt.Errorf("job %s: %w", id, models.ErrJobNotFound)
	}
	if err != nil {
		return j, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *SQLStore) ListJobs(ctx context.Context) ([]models.TrackingJob, error) {
	rows, err := s.query(ctx, `SELECT `+jobColumns+` FROM tracking_jobs ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var out []models.TrackingJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
