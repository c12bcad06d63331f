package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/innovasure/settlement-orchestrator/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Queries implements Querier on top of pgx.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

var _ Querier = (*Queries)(nil)

func ToPgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func FromPgUUID(id pgtype.UUID) uuid.UUID {
	if !id.Valid {
		return uuid.Nil
	}
	return uuid.UUID(id.Bytes)
}

func toPgUUIDPtr(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{}
	}
	return ToPgUUID(*id)
}

func fromPgUUIDPtr(id pgtype.UUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	v := uuid.UUID(id.Bytes)
	return &v
}

func toPgTimestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func fromPgTimestamptz(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func mapPgError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrUniqueViolation, pgErr.ConstraintName)
	}
	return err
}

const batchColumns = `id, settlement_date, status, total_payments_cents, total_insurance_cents,
	total_admin_cents, total_agent_commissions_cents, total_super_agent_commissions_cents,
	payment_count, payout_status, category_refs, notes, processed_by, processed_at, created_at, updated_at`

func scanPgBatch(row pgx.Row) (models.SettlementBatch, error) {
	var (
		b                                                    models.SettlementBatch
		id, processedBy                                      pgtype.UUID
		date                                                 pgtype.Date
		payments, insurance, admin, agentComm, superAgentComm int64
		count                                                int32
		payoutStatus, refs                                   []byte
		notes                                                *string
		processedAt                                          pgtype.Timestamptz
	)
	err := row.Scan(&id, &date, &b.Status, &payments, &insurance, &admin, &agentComm, &superAgentComm,
		&count, &payoutStatus, &refs, &notes, &processedBy, &processedAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return b, mapPgError(err)
	}
	b.ID = FromPgUUID(id)
	b.SettlementDate = date.Time
	b.Totals = models.BatchTotals{
		TotalPayments:              fromCents(payments),
		TotalInsurance:             fromCents(insurance),
		TotalAdmin:                 fromCents(admin),
		TotalAgentCommissions:      fromCents(agentComm),
		TotalSuperAgentCommissions: fromCents(superAgentComm),
		PaymentCount:               int(count),
	}
	if b.PayoutStatus, err = decodePayoutStatus(payoutStatus); err != nil {
		return b, err
	}
	if b.CategoryRefs, err = decodeCategoryRefs(refs); err != nil {
		return b, err
	}
	if notes != nil {
		b.Notes = *notes
	}
	b.ProcessedBy = fromPgUUIDPtr(processedBy)
	b.ProcessedAt = fromPgTimestamptz(processedAt)
	return b, nil
}

func (q *Queries) InsertBatch(ctx context.Context, b models.SettlementBatch) error {
	payoutStatus, err := payoutStatusJSON(b.PayoutStatus)
	if err != nil {
		return err
	}
	_, err = q.db.Exec(ctx, `
		INSERT INTO settlement_batches (`+batchColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULL, NULL, NULL, NULL, $11, $11)`,
		ToPgUUID(b.ID),
		pgtype.Date{Time: b.SettlementDate, Valid: true},
		b.Status,
		toCents(b.Totals.TotalPayments),
		toCents(b.Totals.TotalInsurance),
		toCents(b.Totals.TotalAdmin),
		toCents(b.Totals.TotalAgentCommissions),
		toCents(b.Totals.TotalSuperAgentCommissions),
		int32(b.Totals.PaymentCount),
		payoutStatus,
		b.CreatedAt,
	)
	return mapPgError(err)
}

func (q *Queries) GetBatch(ctx context.Context, id uuid.UUID) (models.SettlementBatch, error) {
	return scanPgBatch(q.db.QueryRow(ctx, `SELECT `+batchColumns+` FROM settlement_batches WHERE id = $1`, ToPgUUID(id)))
}

func (q *Queries) GetBatchForUpdate(ctx context.Context, id uuid.UUID) (models.SettlementBatch, error) {
	return scanPgBatch(q.db.QueryRow(ctx, `SELECT `+batchColumns+` FROM settlement_batches WHERE id = $1 FOR UPDATE`, ToPgUUID(id)))
}

func (q *Queries) GetBatchByDate(ctx context.Context, date time.Time) (models.SettlementBatch, error) {
	return scanPgBatch(q.db.QueryRow(ctx, `SELECT `+batchColumns+` FROM settlement_batches WHERE settlement_date = $1`,
		pgtype.Date{Time: date, Valid: true}))
}

func (q *Queries) ListBatches(ctx context.Context, arg ListBatchesParams) ([]models.SettlementBatch, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+batchColumns+`
		FROM settlement_batches
		WHERE ($1::text = '' OR status = $1::text)
		ORDER BY settlement_date DESC
		LIMIT $2 OFFSET $3`, arg.Status, arg.Limit, arg.Offset)
	if err != nil {
		return nil, fmt.Errorf("list settlement batches: %w", err)
	}
	defer rows.Close()

	var out []models.SettlementBatch
	for rows.Next() {
		b, err := scanPgBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (q *Queries) UpdateBatchState(ctx context.Context, arg UpdateBatchStateParams) (int64, error) {
	payoutStatus, err := payoutStatusJSON(arg.PayoutStatus)
	if err != nil {
		return 0, err
	}
	refs, err := categoryRefsJSON(arg.CategoryRefs)
	if err != nil {
		return 0, err
	}
	var notes *string
	if arg.Notes != "" {
		notes = &arg.Notes
	}
	tag, err := q.db.Exec(ctx, `
		UPDATE settlement_batches
		SET status = $2, payout_status = $3, category_refs = $4, notes = $5,
		    processed_by = $6, processed_at = $7, updated_at = NOW()
		WHERE id = $1`,
		ToPgUUID(arg.ID), arg.Status, payoutStatus, refs, notes,
		toPgUUIDPtr(arg.ProcessedBy), toPgTimestamptz(arg.ProcessedAt))
	if err != nil {
		return 0, mapPgError(err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) ListUnbatchedPayments(ctx context.Context, from, to time.Time) ([]models.AllocatedPayment, error) {
	rows, err := q.db.Query(ctx, `
		SELECT p.id, p.member_id, p.plan_id, p.agent_id, p.super_agent_id, p.amount_cents, p.allocated_at,
		       pl.agent_commission_kind, pl.agent_commission_value,
		       pl.super_agent_commission_kind, pl.super_agent_commission_value,
		       pl.admin_fee_kind, pl.admin_fee_value
		FROM payments p
		JOIN plans pl ON pl.id = p.plan_id
		WHERE p.settlement_id IS NULL AND p.allocated_at >= $1 AND p.allocated_at < $2
		ORDER BY p.allocated_at, p.id
		FOR UPDATE OF p`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list unbatched payments: %w", err)
	}
	defer rows.Close()

	var out []models.AllocatedPayment
	for rows.Next() {
		var (
			p                                    models.AllocatedPayment
			id, memberID, planID, agent, super_  pgtype.UUID
			amount                               int64
			agentKind, agentVal                  string
			superKind, superVal, adminKind, admV string
		)
		if err := rows.Scan(&id, &memberID, &planID, &agent, &super_, &amount, &p.AllocatedAt,
			&agentKind, &agentVal, &superKind, &superVal, &adminKind, &admV); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		p.ID = FromPgUUID(id)
		p.MemberID = FromPgUUID(memberID)
		p.PlanID = FromPgUUID(planID)
		p.AgentID = fromPgUUIDPtr(agent)
		p.SuperAgentID = fromPgUUIDPtr(super_)
		p.Amount = fromCents(amount)
		if p.AgentCommission, err = portion(agentKind, agentVal); err != nil {
			return nil, err
		}
		if p.SuperAgentCommission, err = portion(superKind, superVal); err != nil {
			return nil, err
		}
		if p.AdminFee, err = portion(adminKind, admV); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q *Queries) AssignPaymentsToBatch(ctx context.Context, batchID uuid.UUID, paymentIDs []uuid.UUID) (int64, error) {
	if len(paymentIDs) == 0 {
		return 0, nil
	}
	ids := make([]pgtype.UUID, 0, len(paymentIDs))
	for _, id := range paymentIDs {
		ids = append(ids, ToPgUUID(id))
	}
	tag, err := q.db.Exec(ctx, `
		UPDATE payments SET settlement_id = $1
		WHERE id = ANY($2) AND settlement_id IS NULL`, ToPgUUID(batchID), ids)
	if err != nil {
		return 0, mapPgError(err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) InsertPayment(ctx context.Context, p models.Payment) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO payments (id, member_id, plan_id, agent_id, super_agent_id, amount_cents, allocated_at, settlement_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ToPgUUID(p.ID), ToPgUUID(p.MemberID), ToPgUUID(p.PlanID), toPgUUIDPtr(p.AgentID),
		toPgUUIDPtr(p.SuperAgentID), toCents(p.Amount), p.AllocatedAt, toPgUUIDPtr(p.SettlementID))
	return mapPgError(err)
}

func (q *Queries) UpsertPlan(ctx context.Context, p models.Plan) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO plans (id, name, agent_commission_kind, agent_commission_value,
		                   super_agent_commission_kind, super_agent_commission_value,
		                   admin_fee_kind, admin_fee_value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			agent_commission_kind = EXCLUDED.agent_commission_kind,
			agent_commission_value = EXCLUDED.agent_commission_value,
			super_agent_commission_kind = EXCLUDED.super_agent_commission_kind,
			super_agent_commission_value = EXCLUDED.super_agent_commission_value,
			admin_fee_kind = EXCLUDED.admin_fee_kind,
			admin_fee_value = EXCLUDED.admin_fee_value`,
		ToPgUUID(p.ID), p.Name,
		p.AgentCommission.Kind, p.AgentCommission.Value.String(),
		p.SuperAgentCommission.Kind, p.SuperAgentCommission.Value.String(),
		p.AdminFee.Kind, p.AdminFee.Value.String())
	return mapPgError(err)
}

func (q *Queries) UpsertBeneficiary(ctx context.Context, b models.Beneficiary) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO beneficiaries (id, type, name, phone, provider, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type, name = EXCLUDED.name,
			phone = EXCLUDED.phone, provider = EXCLUDED.provider`,
		ToPgUUID(b.ID), b.Type, b.Name, b.Phone, b.Provider)
	return mapPgError(err)
}

func (q *Queries) GetBeneficiary(ctx context.Context, id uuid.UUID) (models.Beneficiary, error) {
	var (
		b   models.Beneficiary
		bid pgtype.UUID
	)
	err := q.db.QueryRow(ctx, `
		SELECT id, type, name, phone, provider, created_at FROM beneficiaries WHERE id = $1`,
		ToPgUUID(id)).Scan(&bid, &b.Type, &b.Name, &b.Phone, &b.Provider, &b.CreatedAt)
	if err != nil {
		return b, mapPgError(err)
	}
	b.ID = FromPgUUID(bid)
	return b, nil
}

const payoutColumns = `id, batch_id, beneficiary_id, beneficiary_type, amount_cents, status, provider,
	provider_txn_id, conversation_id, attempts, last_attempt_at, error_details,
	manual_transaction_ref, manual_transaction_details, created_at, updated_at`

func scanPgPayout(row pgx.Row, extra ...any) (models.PayoutTransaction, error) {
	var (
		p                         models.PayoutTransaction
		id, batchID, beneficiary  pgtype.UUID
		amount                    int64
		attempts                  int32
		lastAttempt               pgtype.Timestamptz
		errorDetails, manualBytes []byte
	)
	dest := []any{&id, &batchID, &beneficiary, &p.BeneficiaryType, &amount, &p.Status, &p.Provider,
		&p.ProviderTxnID, &p.ConversationID, &attempts, &lastAttempt, &errorDetails,
		&p.ManualTransactionRef, &manualBytes, &p.CreatedAt, &p.UpdatedAt}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return p, mapPgError(err)
	}
	p.ID = FromPgUUID(id)
	p.BatchID = FromPgUUID(batchID)
	p.BeneficiaryID = FromPgUUID(beneficiary)
	p.Amount = fromCents(amount)
	p.Attempts = int(attempts)
	p.LastAttemptAt = fromPgTimestamptz(lastAttempt)
	var err error
	if p.ErrorDetails, err = decodeErrorDetails(errorDetails); err != nil {
		return p, err
	}
	if p.ManualTransactionDetails, err = decodeManualDetails(manualBytes); err != nil {
		return p, err
	}
	return p, nil
}

func (q *Queries) InsertPayout(ctx context.Context, p models.PayoutTransaction) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO payouts (id, batch_id, beneficiary_id, beneficiary_type, amount_cents, status, provider,
		                     attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		ToPgUUID(p.ID), ToPgUUID(p.BatchID), ToPgUUID(p.BeneficiaryID), p.BeneficiaryType,
		toCents(p.Amount), p.Status, p.Provider, int32(p.Attempts), p.CreatedAt)
	return mapPgError(err)
}

func (q *Queries) GetPayout(ctx context.Context, id uuid.UUID) (models.PayoutTransaction, error) {
	return scanPgPayout(q.db.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, ToPgUUID(id)))
}

func (q *Queries) GetPayoutForUpdate(ctx context.Context, id uuid.UUID) (models.PayoutTransaction, error) {
	return scanPgPayout(q.db.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1 FOR UPDATE`, ToPgUUID(id)))
}

func (q *Queries) GetPayoutByConversationID(ctx context.Context, conversationID string) (models.PayoutTransaction, error) {
	return scanPgPayout(q.db.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE conversation_id = $1`, conversationID))
}

func (q *Queries) ListPayouts(ctx context.Context, batchID uuid.UUID, status string) ([]models.PayoutTransaction, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+payoutColumns+`
		FROM payouts
		WHERE batch_id = $1 AND ($2::text = '' OR status = $2::text)
		ORDER BY created_at, id`, ToPgUUID(batchID), status)
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	defer rows.Close()

	var out []models.PayoutTransaction
	for rows.Next() {
		p, err := scanPgPayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q *Queries) ListPayoutDetails(ctx context.Context, batchID uuid.UUID, status string) ([]models.PayoutDetail, error) {
	rows, err := q.db.Query(ctx, `
		SELECT p.id, p.batch_id, p.beneficiary_id, p.beneficiary_type, p.amount_cents, p.status, p.provider,
		       p.provider_txn_id, p.conversation_id, p.attempts, p.last_attempt_at, p.error_details,
		       p.manual_transaction_ref, p.manual_transaction_details, p.created_at, p.updated_at,
		       COALESCE(b.name, ''), COALESCE(b.phone, '')
		FROM payouts p
		LEFT JOIN beneficiaries b ON b.id = p.beneficiary_id
		WHERE p.batch_id = $1 AND ($2::text = '' OR p.status = $2::text)
		ORDER BY b.name, p.id`, ToPgUUID(batchID), status)
	if err != nil {
		return nil, fmt.Errorf("list payout details: %w", err)
	}
	defer rows.Close()

	var out []models.PayoutDetail
	for rows.Next() {
		var d models.PayoutDetail
		p, err := scanPgPayout(rows, &d.BeneficiaryName, &d.BeneficiaryPhone)
		if err != nil {
			return nil, err
		}
		d.PayoutTransaction = p
		out = append(out, d)
	}
	return out, rows.Err()
}

func (q *Queries) UpdatePayout(ctx context.Context, p models.PayoutTransaction) (int64, error) {
	details, err := errorDetailsJSON(p.ErrorDetails)
	if err != nil {
		return 0, err
	}
	manual, err := manualDetailsJSON(p.ManualTransactionDetails)
	if err != nil {
		return 0, err
	}
	tag, err := q.db.Exec(ctx, `
		UPDATE payouts
		SET status = $2, provider = $3, provider_txn_id = $4, conversation_id = $5, attempts = $6,
		    last_attempt_at = $7, error_details = $8, manual_transaction_ref = $9,
		    manual_transaction_details = $10, updated_at = NOW()
		WHERE id = $1`,
		ToPgUUID(p.ID), p.Status, p.Provider, p.ProviderTxnID, p.ConversationID, int32(p.Attempts),
		toPgTimestamptz(p.LastAttemptAt), details, p.ManualTransactionRef, manual)
	if err != nil {
		return 0, mapPgError(err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) CountPayoutsByStatus(ctx context.Context, batchID uuid.UUID) (map[string]int64, error) {
	rows, err := q.db.Query(ctx, `SELECT status, COUNT(*) FROM payouts WHERE batch_id = $1 GROUP BY status`, ToPgUUID(batchID))
	if err != nil {
		return nil, fmt.Errorf("count payouts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan payout count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

func (q *Queries) SumPayoutAmounts(ctx context.Context, batchID uuid.UUID) (int64, error) {
	var sum int64
	err := q.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount_cents), 0)::bigint FROM payouts WHERE batch_id = $1`,
		ToPgUUID(batchID)).Scan(&sum)
	return sum, mapPgError(err)
}

func (q *Queries) ListStaleInProgressPayouts(ctx context.Context, before time.Time, limit int32) ([]models.PayoutTransaction, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+payoutColumns+`
		FROM payouts
		WHERE status = 'in_progress' AND last_attempt_at < $1
		ORDER BY last_attempt_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale payouts: %w", err)
	}
	defer rows.Close()

	var out []models.PayoutTransaction
	for rows.Next() {
		p, err := scanPgPayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q *Queries) InsertPayoutAttempt(ctx context.Context, a models.PayoutAttempt) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO payout_attempts (reference, payout_id, attempt, created_at)
		VALUES ($1, $2, $3, $4)`,
		a.Reference, ToPgUUID(a.PayoutID), int32(a.Attempt), a.CreatedAt)
	return mapPgError(err)
}

func (q *Queries) SetPayoutAttemptConversation(ctx context.Context, reference, conversationID string) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE payout_attempts SET conversation_id = $2 WHERE reference = $1`,
		reference, conversationID)
	if err != nil {
		return 0, mapPgError(err)
	}
	return tag.RowsAffected(), nil
}

// GetPayoutAttempt matches ref against either the reference we sent or the
// conversation ID the provider acknowledged with.
func (q *Queries) GetPayoutAttempt(ctx context.Context, ref string) (models.PayoutAttempt, error) {
	var (
		a       models.PayoutAttempt
		payout  pgtype.UUID
		attempt int32
	)
	err := q.db.QueryRow(ctx, `
		SELECT reference, payout_id, attempt, conversation_id, created_at
		FROM payout_attempts
		WHERE reference = $1 OR conversation_id = $1
		LIMIT 1`, ref).Scan(&a.Reference, &payout, &attempt, &a.ConversationID, &a.CreatedAt)
	if err != nil {
		return a, mapPgError(err)
	}
	a.PayoutID = FromPgUUID(payout)
	a.Attempt = int(attempt)
	return a, nil
}

func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO audit_log (entity_type, entity_id, actor_id, action, prev_state, next_state, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		arg.EntityType, ToPgUUID(arg.EntityID), toPgUUIDPtr(arg.ActorID), arg.Action,
		arg.PrevState, arg.NextState, arg.Metadata)
	return mapPgError(err)
}

func (q *Queries) ListAuditLog(ctx context.Context, entityType string, entityID uuid.UUID) ([]models.AuditEntry, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, entity_type, entity_id, actor_id, action, COALESCE(prev_state, ''), COALESCE(next_state, ''), metadata, created_at
		FROM audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY id`, entityType, ToPgUUID(entityID))
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		var (
			e         models.AuditEntry
			eid, actr pgtype.UUID
		)
		if err := rows.Scan(&e.ID, &e.EntityType, &eid, &actr, &e.Action, &e.PrevState, &e.NextState, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.EntityID = FromPgUUID(eid)
		e.ActorID = fromPgUUIDPtr(actr)
		out = append(out, e)
	}
	return out, rows.Err()
}

func portion(kind, value string) (models.CommissionPortion, error) {
	v, err := decimal.NewFromString(value)
	if err != nil {
		return models.CommissionPortion{}, fmt.Errorf("invalid commission value %q: %w", value, err)
	}
	return models.CommissionPortion{Kind: kind, Value: v}, nil
}
