package models

// Requests for the HTTP API. Defined in domain so the CLI can reuse them.

type StartTrackingRequest struct {
	ProductID       string   `json:"productId" validate:"required"`
	Competitors     []string `json:"competitors" validate:"required,min=1,dive,required"`
	IntervalMinutes int      `json:"intervalMinutes" default:"60" validate:"gte=1,lte=10080"`
}

type StartTrackingResponse struct {
	JobID string `json:"jobId"`
}

type JobRequest struct {
	JobID string `param:"job_id" json:"jobId" validate:"required"`
}

type ProductRequest struct {
	ProductID string `param:"id" json:"productId" validate:"required"`
}

type IntelligenceRequest struct {
	ProductID string `param:"id" json:"productId" validate:"required"`
	// Since narrows the observation window; accepts RFC3339, date or unix seconds.
	Since string `query:"since" json:"since"`
	// Limit of zero means the service default.
	Limit int `query:"limit" json:"limit" validate:"omitempty,gte=1,lte=5000"`
}

type PortfolioRequest struct {
	ProductIDs []string `json:"productIds" validate:"required,min=1,max=500,dive,required"`
	TopN       int      `json:"topN" default:"10" validate:"gte=1,lte=100"`
}

type UpsertProductRequest struct {
	ProductID        string   `param:"id" json:"productId" validate:"required"`
	Name             string   `json:"name"`
	Cost             float64  `json:"cost" validate:"gte=0"`
	CurrentPrice     float64  `json:"currentPrice" validate:"gt=0"`
	Currency         string   `json:"currency" default:"USD" validate:"len=3"`
	UnitsSold        int64    `json:"unitsSold" validate:"gte=0"`
	Category         string   `json:"category"`
	HistoricalMargin *float64 `json:"historicalMargin" validate:"omitempty,gte=0,lt=1"`
}

func (r UpsertProductRequest) Product() Product {
	return Product{
		ID:               r.ProductID,
		Name:             r.Name,
		Cost:             r.Cost,
		CurrentPrice:     r.CurrentPrice,
		Currency:         r.Currency,
		UnitsSold:        r.UnitsSold,
		Category:         r.Category,
		HistoricalMargin: r.HistoricalMargin,
	}
}
