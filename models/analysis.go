package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Analysis is a persisted image style analysis request.
type Analysis struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	ImageURL    string         `json:"image_url"`
	Prompt      string         `json:"prompt,omitempty"`
	Provider    string         `json:"provider"`
	ProviderRef string         `json:"provider_ref,omitempty"`
	Status      AnalysisStatus `json:"status"`
	Result      string         `json:"result,omitempty"` // JSON style template
	Error       string         `json:"error,omitempty"`
	Cost        decimal.Decimal `json:"cost"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// CreditTransaction is one row of the credit ledger.
type CreditTransaction struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Amount     decimal.Decimal `json:"amount"` // negative = debit
	Reason     string          `json:"reason"` // analysis, refund, purchase
	AnalysisID string          `json:"analysis_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
