package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/innovasure/settlement-orchestrator/internal/domain"
	"github.com/innovasure/settlement-orchestrator/internal/models"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

func toCents(d decimal.Decimal) int64 {
	return domain.FromDecimal(d)
}

func fromCents(c int64) decimal.Decimal {
	return domain.NewMoney(c).ToDecimal()
}

// DayBounds returns the UTC [start, end) range of the calendar day containing t.
func DayBounds(t time.Time) (time.Time, time.Time) {
	y, m, d := t.UTC().Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

func decodeErrorDetails(raw []byte) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode error_details: %w", err)
	}
	return out, nil
}

func decodeManualDetails(raw []byte) (*models.ManualDetails, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var out models.ManualDetails
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode manual_transaction_details: %w", err)
	}
	return &out, nil
}

func decodePayoutStatus(raw []byte) (models.PayoutStatusSnapshot, error) {
	var out models.PayoutStatusSnapshot
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode payout_status: %w", err)
	}
	return out, nil
}

func decodeCategoryRefs(raw []byte) (map[string]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var out map[string]string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode category_refs: %w", err)
	}
	return out, nil
}

func manualDetailsJSON(d *models.ManualDetails) ([]byte, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

func errorDetailsJSON(d map[string]any) ([]byte, error) {
	if len(d) == 0 {
		return nil, nil
	}
	return json.Marshal(d)
}

func categoryRefsJSON(refs map[string]string) ([]byte, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	return json.Marshal(refs)
}

func payoutStatusJSON(s models.PayoutStatusSnapshot) ([]byte, error) {
	return json.Marshal(s)
}
