package domain

// MaxPayoutAttempts caps automated dispatch attempts per payout row.
const MaxPayoutAttempts = 5

// Settlement batch statuses
const (
	BatchStatusOpen           = "open"
	BatchStatusReconciliation = "reconciliation"
	BatchStatusProcessed      = "processed"
	BatchStatusCompleted      = "completed"
)

// Payout row statuses
const (
	PayoutStatusPending        = "pending"
	PayoutStatusInProgress     = "in_progress"
	PayoutStatusCompleted      = "completed"
	PayoutStatusFailed         = "failed"
	PayoutStatusReconciliation = "reconciliation"
)

// Category payout statuses, reported per allocation bucket on a batch.
const (
	CategoryStatusPending         = "pending"
	CategoryStatusInProgress      = "in_progress"
	CategoryStatusCompleted       = "completed"
	CategoryStatusFailed          = "failed"
	CategoryStatusManual          = "manual"
	CategoryStatusPartiallyFailed = "partially_failed"
)

const (
	CategoryInsurance      = "insurance"
	CategoryAdministrative = "administrative"
	CategoryCommissions    = "commissions"
)

const (
	BeneficiaryAgent      = "agent"
	BeneficiarySuperAgent = "super_agent"
)

const (
	ProviderMpesa  = "mpesa"
	ProviderBank   = "bank"
	ProviderManual = "manual"
)

const (
	CommissionFixed      = "fixed"
	CommissionPercentage = "percentage"
)

// IsPayoutStatus reports whether s names a payout row status.
func IsPayoutStatus(s string) bool {
	switch s {
	case PayoutStatusPending, PayoutStatusInProgress, PayoutStatusCompleted, PayoutStatusFailed, PayoutStatusReconciliation:
		return true
	}
	return false
}

// IsBatchStatus reports whether s names a batch status.
func IsBatchStatus(s string) bool {
	switch s {
	case BatchStatusOpen, BatchStatusReconciliation, BatchStatusProcessed, BatchStatusCompleted:
		return true
	}
	return false
}

// CategoryDone reports whether a category status needs no further payout work.
func CategoryDone(s string) bool {
	return s == CategoryStatusCompleted || s == CategoryStatusManual
}
