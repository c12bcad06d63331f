package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/innovasure/settlement-orchestrator/internal/models"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// timeLayout is fixed width so TEXT comparisons order like instants.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLDBTX is satisfied by *sql.DB and *sql.Tx.
type SQLDBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteQueries implements Querier on database/sql with the modernc driver.
type SQLiteQueries struct {
	db SQLDBTX
}

func NewSQLite(db SQLDBTX) *SQLiteQueries {
	return &SQLiteQueries{db: db}
}

var _ Querier = (*SQLiteQueries)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullUUID(id *uuid.UUID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}

func parseNullUUID(s sql.NullString) (*uuid.UUID, error) {
	if !s.Valid {
		return nil, nil
	}
	id, err := uuid.Parse(s.String)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullBytes(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func mapSQLiteError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %s", ErrUniqueViolation, sqlErr.Error())
		}
	}
	return err
}

func affected(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, mapSQLiteError(err)
	}
	return res.RowsAffected()
}

func scanSQLiteBatch(row rowScanner) (models.SettlementBatch, error) {
	var (
		b                                                     models.SettlementBatch
		id, date, created, updated                            string
		payments, insurance, admin, agentComm, superAgentComm int64
		count                                                 int
		payoutStatus, refs, notes, processedBy, processedAt   sql.NullString
	)
	err := row.Scan(&id, &date, &b.Status, &payments, &insurance, &admin, &agentComm, &superAgentComm,
		&count, &payoutStatus, &refs, &notes, &processedBy, &processedAt, &created, &updated)
	if err != nil {
		return b, mapSQLiteError(err)
	}
	if b.ID, err = uuid.Parse(id); err != nil {
		return b, err
	}
	if b.SettlementDate, err = time.Parse(dateLayout, date); err != nil {
		return b, err
	}
	b.Totals = models.BatchTotals{
		TotalPayments:              fromCents(payments),
		TotalInsurance:             fromCents(insurance),
		TotalAdmin:                 fromCents(admin),
		TotalAgentCommissions:      fromCents(agentComm),
		TotalSuperAgentCommissions: fromCents(superAgentComm),
		PaymentCount:               count,
	}
	if b.PayoutStatus, err = decodePayoutStatus([]byte(payoutStatus.String)); err != nil {
		return b, err
	}
	if b.CategoryRefs, err = decodeCategoryRefs([]byte(refs.String)); err != nil {
		return b, err
	}
	b.Notes = notes.String
	if b.ProcessedBy, err = parseNullUUID(processedBy); err != nil {
		return b, err
	}
	if b.ProcessedAt, err = parseNullTime(processedAt); err != nil {
		return b, err
	}
	if b.CreatedAt, err = parseTime(created); err != nil {
		return b, err
	}
	b.UpdatedAt, err = parseTime(updated)
	return b, err
}

func (q *SQLiteQueries) InsertBatch(ctx context.Context, b models.SettlementBatch) error {
	payoutStatus, err := payoutStatusJSON(b.PayoutStatus)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO settlement_batches (`+batchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, NULL, NULL, ?, ?)`,
		b.ID.String(),
		b.SettlementDate.Format(dateLayout),
		b.Status,
		toCents(b.Totals.TotalPayments),
		toCents(b.Totals.TotalInsurance),
		toCents(b.Totals.TotalAdmin),
		toCents(b.Totals.TotalAgentCommissions),
		toCents(b.Totals.TotalSuperAgentCommissions),
		b.Totals.PaymentCount,
		string(payoutStatus),
		formatTime(b.CreatedAt),
		formatTime(b.CreatedAt),
	)
	return mapSQLiteError(err)
}

func (q *SQLiteQueries) GetBatch(ctx context.Context, id uuid.UUID) (models.SettlementBatch, error) {
	return scanSQLiteBatch(q.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM settlement_batches WHERE id = ?`, id.String()))
}

// GetBatchForUpdate relies on the single-writer connection for row locking.
func (q *SQLiteQueries) GetBatchForUpdate(ctx context.Context, id uuid.UUID) (models.SettlementBatch, error) {
	return q.GetBatch(ctx, id)
}

func (q *SQLiteQueries) GetBatchByDate(ctx context.Context, date time.Time) (models.SettlementBatch, error) {
	return scanSQLiteBatch(q.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM settlement_batches WHERE settlement_date = ?`,
		date.UTC().Format(dateLayout)))
}

func (q *SQLiteQueries) ListBatches(ctx context.Context, arg ListBatchesParams) ([]models.SettlementBatch, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+batchColumns+`
		FROM settlement_batches
		WHERE (? = '' OR status = ?)
		ORDER BY settlement_date DESC
		LIMIT ? OFFSET ?`, arg.Status, arg.Status, arg.Limit, arg.Offset)
	if err != nil {
		return nil, fmt.Errorf("list settlement batches: %w", err)
	}
	defer rows.Close()

	var out []models.SettlementBatch
	for rows.Next() {
		b, err := scanSQLiteBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (q *SQLiteQueries) UpdateBatchState(ctx context.Context, arg UpdateBatchStateParams) (int64, error) {
	payoutStatus, err := payoutStatusJSON(arg.PayoutStatus)
	if err != nil {
		return 0, err
	}
	refs, err := categoryRefsJSON(arg.CategoryRefs)
	if err != nil {
		return 0, err
	}
	notes := sql.NullString{String: arg.Notes, Valid: arg.Notes != ""}
	return affected(q.db.ExecContext(ctx, `
		UPDATE settlement_batches
		SET status = ?, payout_status = ?, category_refs = ?, notes = ?,
		    processed_by = ?, processed_at = ?, updated_at = ?
		WHERE id = ?`,
		arg.Status, string(payoutStatus), nullBytes(refs), notes,
		nullUUID(arg.ProcessedBy), nullTime(arg.ProcessedAt), formatTime(time.Now()), arg.ID.String()))
}

func (q *SQLiteQueries) ListUnbatchedPayments(ctx context.Context, from, to time.Time) ([]models.AllocatedPayment, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT p.id, p.member_id, p.plan_id, p.agent_id, p.super_agent_id, p.amount_cents, p.allocated_at,
		       pl.agent_commission_kind, pl.agent_commission_value,
		       pl.super_agent_commission_kind, pl.super_agent_commission_value,
		       pl.admin_fee_kind, pl.admin_fee_value
		FROM payments p
		JOIN plans pl ON pl.id = p.plan_id
		WHERE p.settlement_id IS NULL AND p.allocated_at >= ? AND p.allocated_at < ?
		ORDER BY p.allocated_at, p.id`, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("list unbatched payments: %w", err)
	}
	defer rows.Close()

	var out []models.AllocatedPayment
	for rows.Next() {
		var (
			p                                   models.AllocatedPayment
			id, memberID, planID, allocated     string
			agent, superAgent                   sql.NullString
			amount                              int64
			agentKind, agentVal                 string
			superKind, superVal, admKind, admVal string
		)
		if err := rows.Scan(&id, &memberID, &planID, &agent, &superAgent, &amount, &allocated,
			&agentKind, &agentVal, &superKind, &superVal, &admKind, &admVal); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		if p.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if p.MemberID, err = uuid.Parse(memberID); err != nil {
			return nil, err
		}
		if p.PlanID, err = uuid.Parse(planID); err != nil {
			return nil, err
		}
		if p.AgentID, err = parseNullUUID(agent); err != nil {
			return nil, err
		}
		if p.SuperAgentID, err = parseNullUUID(superAgent); err != nil {
			return nil, err
		}
		if p.AllocatedAt, err = parseTime(allocated); err != nil {
			return nil, err
		}
		p.Amount = fromCents(amount)
		if p.AgentCommission, err = portion(agentKind, agentVal); err != nil {
			return nil, err
		}
		if p.SuperAgentCommission, err = portion(superKind, superVal); err != nil {
			return nil, err
		}
		if p.AdminFee, err = portion(admKind, admVal); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q *SQLiteQueries) AssignPaymentsToBatch(ctx context.Context, batchID uuid.UUID, paymentIDs []uuid.UUID) (int64, error) {
	if len(paymentIDs) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(paymentIDs)+1)
	args = append(args, batchID.String())
	for _, id := range paymentIDs {
		args = append(args, id.String())
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(paymentIDs)), ",")
	return affected(q.db.ExecContext(ctx, `
		UPDATE payments SET settlement_id = ?
		WHERE settlement_id IS NULL AND id IN (`+placeholders+`)`, args...))
}

func (q *SQLiteQueries) InsertPayment(ctx context.Context, p models.Payment) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO payments (id, member_id, plan_id, agent_id, super_agent_id, amount_cents, allocated_at, settlement_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.MemberID.String(), p.PlanID.String(), nullUUID(p.AgentID), nullUUID(p.SuperAgentID),
		toCents(p.Amount), formatTime(p.AllocatedAt), nullUUID(p.SettlementID))
	return mapSQLiteError(err)
}

func (q *SQLiteQueries) UpsertPlan(ctx context.Context, p models.Plan) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO plans (id, name, agent_commission_kind, agent_commission_value,
		                   super_agent_commission_kind, super_agent_commission_value,
		                   admin_fee_kind, admin_fee_value, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			agent_commission_kind = excluded.agent_commission_kind,
			agent_commission_value = excluded.agent_commission_value,
			super_agent_commission_kind = excluded.super_agent_commission_kind,
			super_agent_commission_value = excluded.super_agent_commission_value,
			admin_fee_kind = excluded.admin_fee_kind,
			admin_fee_value = excluded.admin_fee_value`,
		p.ID.String(), p.Name,
		p.AgentCommission.Kind, p.AgentCommission.Value.String(),
		p.SuperAgentCommission.Kind, p.SuperAgentCommission.Value.String(),
		p.AdminFee.Kind, p.AdminFee.Value.String(), formatTime(time.Now()))
	return mapSQLiteError(err)
}

func (q *SQLiteQueries) UpsertBeneficiary(ctx context.Context, b models.Beneficiary) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO beneficiaries (id, type, name, phone, provider, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			type = excluded.type, name = excluded.name,
			phone = excluded.phone, provider = excluded.provider`,
		b.ID.String(), b.Type, b.Name, b.Phone, b.Provider, formatTime(time.Now()))
	return mapSQLiteError(err)
}

func (q *SQLiteQueries) GetBeneficiary(ctx context.Context, id uuid.UUID) (models.Beneficiary, error) {
	var (
		b            models.Beneficiary
		bid, created string
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT id, type, name, phone, provider, created_at FROM beneficiaries WHERE id = ?`,
		id.String()).Scan(&bid, &b.Type, &b.Name, &b.Phone, &b.Provider, &created)
	if err != nil {
		return b, mapSQLiteError(err)
	}
	if b.ID, err = uuid.Parse(bid); err != nil {
		return b, err
	}
	b.CreatedAt, err = parseTime(created)
	return b, err
}

func scanSQLitePayout(row rowScanner, extra ...any) (models.PayoutTransaction, error) {
	var (
		p                                           models.PayoutTransaction
		id, batchID, beneficiary, created, updated  string
		amount                                      int64
		providerTxn, conversation, lastAttempt      sql.NullString
		errorDetails, manualRef, manualDetails      sql.NullString
	)
	dest := []any{&id, &batchID, &beneficiary, &p.BeneficiaryType, &amount, &p.Status, &p.Provider,
		&providerTxn, &conversation, &p.Attempts, &lastAttempt, &errorDetails,
		&manualRef, &manualDetails, &created, &updated}
	dest = append(dest, extra...)
	err := row.Scan(dest...)
	if err != nil {
		return p, mapSQLiteError(err)
	}
	if p.ID, err = uuid.Parse(id); err != nil {
		return p, err
	}
	if p.BatchID, err = uuid.Parse(batchID); err != nil {
		return p, err
	}
	if p.BeneficiaryID, err = uuid.Parse(beneficiary); err != nil {
		return p, err
	}
	p.Amount = fromCents(amount)
	p.ProviderTxnID = stringPtr(providerTxn)
	p.ConversationID = stringPtr(conversation)
	p.ManualTransactionRef = stringPtr(manualRef)
	if p.LastAttemptAt, err = parseNullTime(lastAttempt); err != nil {
		return p, err
	}
	if p.ErrorDetails, err = decodeErrorDetails([]byte(errorDetails.String)); err != nil {
		return p, err
	}
	if p.ManualTransactionDetails, err = decodeManualDetails([]byte(manualDetails.String)); err != nil {
		return p, err
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return p, err
	}
	p.UpdatedAt, err = parseTime(updated)
	return p, err
}

func (q *SQLiteQueries) InsertPayout(ctx context.Context, p models.PayoutTransaction) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO payouts (id, batch_id, beneficiary_id, beneficiary_type, amount_cents, status, provider,
		                     attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.BatchID.String(), p.BeneficiaryID.String(), p.BeneficiaryType,
		toCents(p.Amount), p.Status, p.Provider, p.Attempts, formatTime(p.CreatedAt), formatTime(p.CreatedAt))
	return mapSQLiteError(err)
}

func (q *SQLiteQueries) GetPayout(ctx context.Context, id uuid.UUID) (models.PayoutTransaction, error) {
	return scanSQLitePayout(q.db.QueryRowContext(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = ?`, id.String()))
}

func (q *SQLiteQueries) GetPayoutForUpdate(ctx context.Context, id uuid.UUID) (models.PayoutTransaction, error) {
	return q.GetPayout(ctx, id)
}

func (q *SQLiteQueries) GetPayoutByConversationID(ctx context.Context, conversationID string) (models.PayoutTransaction, error) {
	return scanSQLitePayout(q.db.QueryRowContext(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE conversation_id = ?`, conversationID))
}

func (q *SQLiteQueries) ListPayouts(ctx context.Context, batchID uuid.UUID, status string) ([]models.PayoutTransaction, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+payoutColumns+`
		FROM payouts
		WHERE batch_id = ? AND (? = '' OR status = ?)
		ORDER BY created_at, id`, batchID.String(), status, status)
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	defer rows.Close()

	var out []models.PayoutTransaction
	for rows.Next() {
		p, err := scanSQLitePayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q *SQLiteQueries) ListPayoutDetails(ctx context.Context, batchID uuid.UUID, status string) ([]models.PayoutDetail, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT p.id, p.batch_id, p.beneficiary_id, p.beneficiary_type, p.amount_cents, p.status, p.provider,
		       p.provider_txn_id, p.conversation_id, p.attempts, p.last_attempt_at, p.error_details,
		       p.manual_transaction_ref, p.manual_transaction_details, p.created_at, p.updated_at,
		       COALESCE(b.name, ''), COALESCE(b.phone, '')
		FROM payouts p
		LEFT JOIN beneficiaries b ON b.id = p.beneficiary_id
		WHERE p.batch_id = ? AND (? = '' OR p.status = ?)
		ORDER BY b.name, p.id`, batchID.String(), status, status)
	if err != nil {
		return nil, fmt.Errorf("list payout details: %w", err)
	}
	defer rows.Close()

	var out []models.PayoutDetail
	for rows.Next() {
		var d models.PayoutDetail
		p, err := scanSQLitePayout(rows, &d.BeneficiaryName, &d.BeneficiaryPhone)
		if err != nil {
			return nil, err
		}
		d.PayoutTransaction = p
		out = append(out, d)
	}
	return out, rows.Err()
}

func (q *SQLiteQueries) UpdatePayout(ctx context.Context, p models.PayoutTransaction) (int64, error) {
	details, err := errorDetailsJSON(p.ErrorDetails)
	if err != nil {
		return 0, err
	}
	manual, err := manualDetailsJSON(p.ManualTransactionDetails)
	if err != nil {
		return 0, err
	}
	return affected(q.db.ExecContext(ctx, `
		UPDATE payouts
		SET status = ?, provider = ?, provider_txn_id = ?, conversation_id = ?, attempts = ?,
		    last_attempt_at = ?, error_details = ?, manual_transaction_ref = ?,
		    manual_transaction_details = ?, updated_at = ?
		WHERE id = ?`,
		p.Status, p.Provider, nullString(p.ProviderTxnID), nullString(p.ConversationID), p.Attempts,
		nullTime(p.LastAttemptAt), nullBytes(details), nullString(p.ManualTransactionRef),
		nullBytes(manual), formatTime(time.Now()), p.ID.String()))
}

func (q *SQLiteQueries) CountPayoutsByStatus(ctx context.Context, batchID uuid.UUID) (map[string]int64, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM payouts WHERE batch_id = ? GROUP BY status`, batchID.String())
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

func (q *SQLiteQueries) SumPayoutAmounts(ctx context.Context, batchID uuid.UUID) (int64, error) {
	var sum int64
	err := q.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount_cents), 0) FROM payouts WHERE batch_id = ?`,
		batchID.String()).Scan(&sum)
	return sum, mapSQLiteError(err)
}

func (q *SQLiteQueries) ListStaleInProgressPayouts(ctx context.Context, before time.Time, limit int32) ([]models.PayoutTransaction, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+payoutColumns+`
		FROM payouts
		WHERE status = 'in_progress' AND last_attempt_at < ?
		ORDER BY last_attempt_at
		LIMIT ?`, formatTime(before), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale payouts: %w", err)
	}
	defer rows.Close()

	var out []models.PayoutTransaction
	for rows.Next() {
		p, err := scanSQLitePayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q *SQLiteQueries) InsertPayoutAttempt(ctx context.Context, a models.PayoutAttempt) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO payout_attempts (reference, payout_id, attempt, created_at)
		VALUES (?, ?, ?, ?)`,
		a.Reference, a.PayoutID.String(), a.Attempt, formatTime(a.CreatedAt))
	return mapSQLiteError(err)
}

func (q *SQLiteQueries) SetPayoutAttemptConversation(ctx context.Context, reference, conversationID string) (int64, error) {
	return affected(q.db.ExecContext(ctx, `
		UPDATE payout_attempts SET conversation_id = ? WHERE reference = ?`,
		conversationID, reference))
}

func (q *SQLiteQueries) GetPayoutAttempt(ctx context.Context, ref string) (models.PayoutAttempt, error) {
	var (
		a               models.PayoutAttempt
		payout, created string
		conversation    sql.NullString
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT reference, payout_id, attempt, conversation_id, created_at
		FROM payout_attempts
		WHERE reference = ? OR conversation_id = ?
		LIMIT 1`, ref, ref).Scan(&a.Reference, &payout, &a.Attempt, &conversation, &created)
	if err != nil {
		return a, mapSQLiteError(err)
	}
	if a.PayoutID, err = uuid.Parse(payout); err != nil {
		return a, err
	}
	a.ConversationID = stringPtr(conversation)
	a.CreatedAt, err = parseTime(created)
	return a, err
}

func (q *SQLiteQueries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO audit_log (entity_type, entity_id, actor_id, action, prev_state, next_state, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		arg.EntityType, arg.EntityID.String(), nullUUID(arg.ActorID), arg.Action,
		nullString(arg.PrevState), nullString(arg.NextState), nullBytes(arg.Metadata), formatTime(time.Now()))
	return mapSQLiteError(err)
}

func (q *SQLiteQueries) ListAuditLog(ctx context.Context, entityType string, entityID uuid.UUID) ([]models.AuditEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, actor_id, action, COALESCE(prev_state, ''), COALESCE(next_state, ''), metadata, created_at
		FROM audit_log
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY id`, entityType, entityID.String())
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		var (
			e                 models.AuditEntry
			eid, created      string
			actor, metadata   sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.EntityType, &eid, &actor, &e.Action, &e.PrevState, &e.NextState, &metadata, &created); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if e.EntityID, err = uuid.Parse(eid); err != nil {
			return nil, err
		}
		if e.ActorID, err = parseNullUUID(actor); err != nil {
			return nil, err
		}
		if metadata.Valid {
			e.Metadata = []byte(metadata.String)
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
