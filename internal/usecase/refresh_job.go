package usecase

import (
	"context"
	"encoding/json"
	"errors"

	"PricePulse/internal/domain/models"
	applogger "PricePulse/pkg/logger"
	"PricePulse/pkg/queue"
)

const RefreshJobType = "intelligence.refresh"

type RefreshPayload struct {
	ProductID string `json:"productId"`
}

// RefreshJob recomputes cached intelligence after a significant alert.
type RefreshJob struct {
	svc *IntelligenceService
	l   *applogger.Logger
}

func NewRefreshJob(svc *IntelligenceService, l *applogger.Logger) *RefreshJob {
	return &RefreshJob{svc: svc, l: l}
}

var _ queue.Job = (*RefreshJob)(nil)

func (j *RefreshJob) Name() string { return "intelligence-refresh" }
func (j *RefreshJob) Type() string { return RefreshJobType }

func (j *RefreshJob) Handle(ctx context.Context, payload json.RawMessage) error {
	p, err := queue.Decode[RefreshPayload](payload)
	if err != nil {
		return err
	}
	err = j.svc.Refresh(ctx, p.ProductID)
	if errors.Is(err, models.ErrProductNotFound) {
		// product removed from catalog; nothing to refresh
		j.l.Warn("refresh skipped", applogger.String("product_id", p.ProductID), applogger.Error(err))
		return nil
	}
	return err
}
