package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BatchTotals are computed once when a batch is generated and never recomputed.
type BatchTotals struct {
	TotalPayments              decimal.Decimal `json:"total_payments"`
	TotalInsurance             decimal.Decimal `json:"total_insurance"`
	TotalAdmin                 decimal.Decimal `json:"total_admin"`
	TotalAgentCommissions      decimal.Decimal `json:"total_agent_commissions"`
	TotalSuperAgentCommissions decimal.Decimal `json:"total_super_agent_commissions"`
	PaymentCount               int             `json:"payment_count"`
}

// PayoutStatusSnapshot holds the per-category payout status of a batch.
type PayoutStatusSnapshot struct {
	Insurance      string `json:"insurance"`
	Administrative string `json:"administrative"`
	Commissions    string `json:"commissions"`
}

// Get returns the status for a category name.
func (p PayoutStatusSnapshot) Get(category string) string {
	switch category {
	case "insurance":
		return p.Insurance
	case "administrative":
		return p.Administrative
	case "commissions":
		return p.Commissions
	}
	return ""
}

// Set updates the status for a category name.
func (p *PayoutStatusSnapshot) Set(category, status string) {
	switch category {
	case "insurance":
		p.Insurance = status
	case "administrative":
		p.Administrative = status
	case "commissions":
		p.Commissions = status
	}
}

type SettlementBatch struct {
	ID             uuid.UUID            `json:"id"`
	SettlementDate time.Time            `json:"settlement_date"`
	Status         string               `json:"status"`
	Totals         BatchTotals          `json:"totals"`
	PayoutStatus   PayoutStatusSnapshot `json:"payout_status"`
	CategoryRefs   map[string]string    `json:"category_refs,omitempty"`
	Notes          string               `json:"notes,omitempty"`
	ProcessedBy    *uuid.UUID           `json:"processed_by,omitempty"`
	ProcessedAt    *time.Time           `json:"processed_at,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// ManualDetails is the operator evidence recorded for a manually reconciled payout.
type ManualDetails struct {
	TransactionDate string     `json:"transaction_date"`
	Phone           string     `json:"phone"`
	Notes           string     `json:"notes,omitempty"`
	RecordedBy      *uuid.UUID `json:"recorded_by,omitempty"`
	RecordedAt      time.Time  `json:"recorded_at"`
}

type PayoutTransaction struct {
	ID                       uuid.UUID       `json:"id"`
	BatchID                  uuid.UUID       `json:"batch_id"`
	BeneficiaryID            uuid.UUID       `json:"beneficiary_id"`
	BeneficiaryType          string          `json:"beneficiary_type"`
	Amount                   decimal.Decimal `json:"amount"`
	Status                   string          `json:"status"`
	Provider                 string          `json:"provider"`
	ProviderTxnID            *string         `json:"provider_txn_id,omitempty"`
	ConversationID           *string         `json:"conversation_id,omitempty"`
	Attempts                 int             `json:"attempts"`
	LastAttemptAt            *time.Time      `json:"last_attempt_at,omitempty"`
	ErrorDetails             map[string]any  `json:"error_details,omitempty"`
	ManualTransactionRef     *string         `json:"manual_transaction_ref,omitempty"`
	ManualTransactionDetails *ManualDetails  `json:"manual_transaction_details,omitempty"`
	CreatedAt                time.Time       `json:"created_at"`
	UpdatedAt                time.Time       `json:"updated_at"`
}

// PayoutDetail is a payout row joined with beneficiary display fields.
type PayoutDetail struct {
	PayoutTransaction
	BeneficiaryName  string `json:"beneficiary_name"`
	BeneficiaryPhone string `json:"beneficiary_phone"`
}

// PayoutAttempt links one dispatch attempt's references back to its payout row.
// Reference is what we sent; ConversationID is what the provider acknowledged with.
type PayoutAttempt struct {
	Reference      string
	PayoutID       uuid.UUID
	Attempt        int
	ConversationID *string
	CreatedAt      time.Time
}

type Beneficiary struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
}

// CommissionPortion is a fixed amount or a percentage of the payment.
type CommissionPortion struct {
	Kind  string          `json:"kind"`
	Value decimal.Decimal `json:"value"`
}

type Plan struct {
	ID                   uuid.UUID         `json:"id"`
	Name                 string            `json:"name"`
	AgentCommission      CommissionPortion `json:"agent_commission"`
	SuperAgentCommission CommissionPortion `json:"super_agent_commission"`
	AdminFee             CommissionPortion `json:"admin_fee"`
	CreatedAt            time.Time         `json:"created_at"`
}

type Payment struct {
	ID           uuid.UUID       `json:"id"`
	MemberID     uuid.UUID       `json:"member_id"`
	PlanID       uuid.UUID       `json:"plan_id"`
	AgentID      *uuid.UUID      `json:"agent_id,omitempty"`
	SuperAgentID *uuid.UUID      `json:"super_agent_id,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	AllocatedAt  time.Time       `json:"allocated_at"`
	SettlementID *uuid.UUID      `json:"settlement_id,omitempty"`
}

// AllocatedPayment is a payment joined with the commission portions of its plan.
type AllocatedPayment struct {
	Payment
	AgentCommission      CommissionPortion
	SuperAgentCommission CommissionPortion
	AdminFee             CommissionPortion
}

type AuditEntry struct {
	ID         int64      `json:"id"`
	EntityType string     `json:"entity_type"`
	EntityID   uuid.UUID  `json:"entity_id"`
	ActorID    *uuid.UUID `json:"actor_id,omitempty"`
	Action     string     `json:"action"`
	PrevState  string     `json:"prev_state,omitempty"`
	NextState  string     `json:"next_state,omitempty"`
	Metadata   []byte     `json:"metadata,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
