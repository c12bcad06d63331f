package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/innovasure/settlement-orchestrator/internal/models"
)

// ErrNotFound is returned by every driver when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// ErrUniqueViolation is returned when an insert collides with a unique constraint.
var ErrUniqueViolation = errors.New("unique constraint violation")

// Querier is the data access contract shared by the Postgres and SQLite stores.
type Querier interface {
	InsertBatch(ctx context.Context, b models.SettlementBatch) error
	GetBatch(ctx context.Context, id uuid.UUID) (models.SettlementBatch, error)
	GetBatchForUpdate(ctx context.Context, id uuid.UUID) (models.SettlementBatch, error)
	GetBatchByDate(ctx context.Context, date time.Time) (models.SettlementBatch, error)
	ListBatches(ctx context.Context, arg ListBatchesParams) ([]models.SettlementBatch, error)
	UpdateBatchState(ctx context.Context, arg UpdateBatchStateParams) (int64, error)

	ListUnbatchedPayments(ctx context.Context, from, to time.Time) ([]models.AllocatedPayment, error)
	AssignPaymentsToBatch(ctx context.Context, batchID uuid.UUID, paymentIDs []uuid.UUID) (int64, error)
	InsertPayment(ctx context.Context, p models.Payment) error
	UpsertPlan(ctx context.Context, p models.Plan) error
	UpsertBeneficiary(ctx context.Context, b models.Beneficiary) error
	GetBeneficiary(ctx context.Context, id uuid.UUID) (models.Beneficiary, error)

	InsertPayout(ctx context.Context, p models.PayoutTransaction) error
	GetPayout(ctx context.Context, id uuid.UUID) (models.PayoutTransaction, error)
	GetPayoutForUpdate(ctx context.Context, id uuid.UUID) (models.PayoutTransaction, error)
	GetPayoutByConversationID(ctx context.Context, conversationID string) (models.PayoutTransaction, error)
	ListPayouts(ctx context.Context, batchID uuid.UUID, status string) ([]models.PayoutTransaction, error)
	ListPayoutDetails(ctx context.Context, batchID uuid.UUID, status string) ([]models.PayoutDetail, error)
	UpdatePayout(ctx context.Context, p models.PayoutTransaction) (int64, error)
	CountPayoutsByStatus(ctx context.Context, batchID uuid.UUID) (map[string]int64, error)
	SumPayoutAmounts(ctx context.Context, batchID uuid.UUID) (int64, error)
	ListStaleInProgressPayouts(ctx context.Context, before time.Time, limit int32) ([]models.PayoutTransaction, error)

	InsertPayoutAttempt(ctx context.Context, a models.PayoutAttempt) error
	SetPayoutAttemptConversation(ctx context.Context, reference, conversationID string) (int64, error)
	GetPayoutAttempt(ctx context.Context, ref string) (models.PayoutAttempt, error)

	InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) error
	ListAuditLog(ctx context.Context, entityType string, entityID uuid.UUID) ([]models.AuditEntry, error)
}

type ListBatchesParams struct {
	Status string
	Limit  int32
	Offset int32
}

type UpdateBatchStateParams struct {
	ID           uuid.UUID
	Status       string
	PayoutStatus models.PayoutStatusSnapshot
	CategoryRefs map[string]string
	Notes        string
	ProcessedBy  *uuid.UUID
	ProcessedAt  *time.Time
}

type InsertAuditLogParams struct {
	EntityType string
	EntityID   uuid.UUID
	ActorID    *uuid.UUID
	Action     string
	PrevState  *string
	NextState  *string
	Metadata   []byte
}
