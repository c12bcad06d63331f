package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/innovasure/settlement-orchestrator/internal/domain"
	"github.com/innovasure/settlement-orchestrator/internal/repository"
)

func requireExactlyOne(rows int64, operation string) error {
	if rows != 1 {
		return fmt.Errorf("%s affected %d rows", operation, rows)
	}
	return nil
}

func mapBatchErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return domain.ErrBatchNotFound
	}
	return fmt.Errorf("load settlement batch: %w", err)
}

func mapPayoutErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return domain.ErrPayoutNotFound
	}
	return fmt.Errorf("load payout: %w", err)
}

func normalizeStatusFilter(status string, valid func(string) bool) (string, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status == "" || valid(status) {
		return status, nil
	}
	verr := &domain.ValidationError{}
	verr.Add("status", fmt.Sprintf("Unknown status %q", status))
	return "", verr
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
