package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/innovasure/settlement-orchestrator/internal/domain"
	"github.com/innovasure/settlement-orchestrator/internal/gateway"
	"github.com/innovasure/settlement-orchestrator/internal/models"
)

var ErrInvalidSignature = errors.New("invalid signature")

// CallbackService accepts asynchronous payout results from providers.
type CallbackService struct {
	dispatch *DispatchService
	hmacKey  []byte
	skipSig  bool
}

func NewCallbackService(dispatch *DispatchService, hmacKey string, skipSignature bool) *CallbackService {
	return &CallbackService{
		dispatch: dispatch,
		hmacKey:  []byte(hmacKey),
		skipSig:  skipSignature,
	}
}

// HandlePayoutCallback processes a signed, provider-neutral callback body.
func (s *CallbackService) HandlePayoutCallback(ctx context.Context, payload []byte, signature string) (*models.PayoutTransaction, error) {
	if !s.verifyHMAC(payload, signature) {
		return nil, ErrInvalidSignature
	}

	var cb gateway.Callback
	if err := json.Unmarshal(payload, &cb); err != nil {
		verr := &domain.ValidationError{}
		verr.Add("body", fmt.Sprintf("invalid callback payload: %v", err))
		return nil, verr
	}
	cb.ConversationID = strings.TrimSpace(cb.ConversationID)
	cb.OriginatorConversationID = strings.TrimSpace(cb.OriginatorConversationID)
	if cb.ConversationID == "" && cb.OriginatorConversationID == "" {
		verr := &domain.ValidationError{}
		verr.Add("conversation_id", "conversation_id is required")
		return nil, verr
	}
	return s.dispatch.HandleCallback(ctx, cb)
}

// HandleMpesaResult processes a Daraja B2C result notification.
func (s *CallbackService) HandleMpesaResult(ctx context.Context, body []byte) (*models.PayoutTransaction, error) {
	cb, err := gateway.ParseB2CResult(body)
	if err != nil {
		verr := &domain.ValidationError{}
		verr.Add("Result", err.Error())
		return nil, verr
	}
	return s.dispatch.HandleCallback(ctx, cb)
}

// Sink adapts the service for providers that deliver results in-process.
func (s *CallbackService) Sink() gateway.CallbackSink {
	return func(ctx context.Context, cb gateway.Callback) error {
		_, err := s.dispatch.HandleCallback(ctx, cb)
		return err
	}
}

func (s *CallbackService) verifyHMAC(payload []byte, signature string) bool {
	if s.skipSig {
		return true
	}
	if len(s.hmacKey) == 0 {
		return false
	}

	h := hmac.New(sha256.New, s.hmacKey)
	h.Write(payload)
	expectedSig := "sha256=" + hex.EncodeToString(h.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expectedSig))
}

// SignPayload returns the signature header value expected for payload.
func SignPayload(key, payload []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
