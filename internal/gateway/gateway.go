package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/innovasure/settlement-orchestrator/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrRejected marks a payout the provider refused outright.
var ErrRejected = domain.ErrProviderRejected

// callError wraps a failed provider call; deadline overruns also match
// domain.ErrProviderTimeout.
func callError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrProviderTimeout, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// RejectedError carries the provider's reason for a refusal.
type RejectedError struct {
	Provider    string
	Code        string
	Description string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected payout: %s (%s)", e.Provider, e.Description, e.Code)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// Details renders the rejection as structured error details for the payout row.
func (e *RejectedError) Details() map[string]any {
	return map[string]any{
		"error":       "rejected",
		"provider":    e.Provider,
		"code":        e.Code,
		"description": e.Description,
	}
}

// PayoutRequest is a single disbursement handed to a provider.
type PayoutRequest struct {
	PayoutID  uuid.UUID
	Reference string
	Phone     string
	Account   string
	Amount    decimal.Decimal
	Remarks   string
}

// Ack is the provider's synchronous acknowledgement. Settled is true when the
// provider confirmed the transfer inline and no callback will follow.
type Ack struct {
	ConversationID string
	ProviderTxnID  string
	Settled        bool
}

// Callback is a normalized asynchronous provider result.
type Callback struct {
	ConversationID           string         `json:"conversation_id"`
	OriginatorConversationID string         `json:"originator_conversation_id,omitempty"`
	ProviderTxnID            string         `json:"provider_txn_id,omitempty"`
	Success                  bool           `json:"success"`
	ResultCode               string         `json:"result_code,omitempty"`
	ResultDesc               string         `json:"result_desc,omitempty"`
	Raw                      map[string]any `json:"-"`
}

// Details renders a failed callback as structured error details.
func (c Callback) Details() map[string]any {
	return map[string]any{
		"error":       "provider_failure",
		"code":        c.ResultCode,
		"description": c.ResultDesc,
	}
}

// Provider submits payouts to an external payment rail.
type Provider interface {
	Name() string
	SendPayout(ctx context.Context, req PayoutRequest) (Ack, error)
}

// CallbackSink receives asynchronous results fired by simulated providers.
type CallbackSink func(ctx context.Context, cb Callback) error

// Registry resolves providers by name.
type Registry map[string]Provider

func (r Registry) Get(name string) (Provider, error) {
	p, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("no provider registered for %q", name)
	}
	return p, nil
}
