package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/innovasure/settlement-orchestrator/internal/models"
	"github.com/innovasure/settlement-orchestrator/internal/repository"
)

const (
	entitySettlement = "settlement"
	entityPayout     = "payout"
)

// AuditService writes immutable audit trail entries.
type AuditService struct {
	store QueryStore
}

func NewAuditService(store QueryStore) *AuditService {
	return &AuditService{store: store}
}

// Write stores a single immutable audit record.
func (s *AuditService) Write(ctx context.Context, qtx repository.Querier, entityType string, entityID uuid.UUID, actorID *uuid.UUID, action, prevState, nextState string, metadata map[string]any) error {
	var raw []byte
	if len(metadata) > 0 {
		var err error
		if raw, err = json.Marshal(metadata); err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
	}

	if err := qtx.InsertAuditLog(ctx, repository.InsertAuditLogParams{
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    actorID,
		Action:     action,
		PrevState:  textParam(prevState),
		NextState:  textParam(nextState),
		Metadata:   raw,
	}); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// History returns the audit trail of one entity, oldest first.
func (s *AuditService) History(ctx context.Context, entityType string, entityID uuid.UUID) ([]models.AuditEntry, error) {
	entries, err := s.store.Queries().ListAuditLog(ctx, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("load audit history: %w", err)
	}
	return entries, nil
}

func textParam(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
