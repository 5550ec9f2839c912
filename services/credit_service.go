package services

import (
	"fmt"
	"log/slog"

	"style-analysis/config"
	"style-analysis/internal/status"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
)

// CreditService debits and refunds analysis credits against the users
// collection, with a ledger row per movement.
type CreditService struct {
	app  *pocketbase.PocketBase
	cost decimal.Decimal
}

func NewCreditService(app *pocketbase.PocketBase, cfg *config.Config) *CreditService {
	cost, err := decimal.NewFromString(cfg.AnalysisCost)
	if err != nil {
		slog.Warn("invalid ANALYSIS_COST, falling back to 1", "value", cfg.AnalysisCost)
		cost = decimal.NewFromInt(1)
	}
	return &CreditService{app: app, cost: cost}
}

// Cost returns the per-analysis price in credits.
func (s *CreditService) Cost() decimal.Decimal {
	return s.cost
}

// Balance returns the user's current credit balance.
func (s *CreditService) Balance(userID string) (decimal.Decimal, error) {
	user, err := s.app.FindRecordById("users", userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("credits: find user %s: %w", userID, err)
	}
	return decimal.NewFromFloat(user.GetFloat("credits")), nil
}

// DebitForAnalysis charges the analysis cost. Insufficient balance yields
// status.ErrInsufficientCredits without touching the ledger.
func (s *CreditService) DebitForAnalysis(userID, analysisID string) error {
	user, err := s.app.FindRecordById("users", userID)
	if err != nil {
		return fmt.Errorf("credits: find user %s: %w", userID, err)
	}

	balance := decimal.NewFromFloat(user.GetFloat("credits"))
	if balance.LessThan(s.cost) {
		return status.ErrInsufficientCredits
	}

	user.Set("credits", balance.Sub(s.cost).InexactFloat64())
	if err := s.app.Save(user); err != nil {
		return fmt.Errorf("credits: save user %s: %w", userID, err)
	}

	return s.appendLedger(userID, s.cost.Neg(), "analysis", analysisID)
}

// Refund returns the analysis cost after a failed or canceled analysis.
func (s *CreditService) Refund(userID, analysisID string) error {
	user, err := s.app.FindRecordById("users", userID)
	if err != nil {
		return fmt.Errorf("credits: find user %s: %w", userID, err)
	}

	balance := decimal.NewFromFloat(user.GetFloat("credits"))
	user.Set("credits", balance.Add(s.cost).InexactFloat64())
	if err := s.app.Save(user); err != nil {
		return fmt.Errorf("credits: save user %s: %w", userID, err)
	}

	return s.appendLedger(userID, s.cost, "refund", analysisID)
}

func (s *CreditService) appendLedger(userID string, amount decimal.Decimal, reason, analysisID string) error {
	collection, err := s.app.FindCollectionByNameOrId("credit_ledger")
	if err != nil {
		return fmt.Errorf("credits: find ledger collection: %w", err)
	}

	record := core.NewRecord(collection)
	record.Set("user", userID)
	record.Set("amount", amount.InexactFloat64())
	record.Set("reason", reason)
	record.Set("analysis_id", analysisID)

	if err := s.app.Save(record); err != nil {
		return fmt.Errorf("credits: save ledger row: %w", err)
	}
	return nil
}
