package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MockProvider simulates a mobile-money rail. SendPayout acknowledges after a
// short delay and the final result arrives later through the callback sink.
type MockProvider struct {
	// FailureRate is the probability of a failed result (0.0 to 1.0).
	FailureRate float64
	// RejectRate is the probability of a synchronous rejection.
	RejectRate float64
	MinDelay   time.Duration
	MaxDelay   time.Duration

	mu   sync.RWMutex
	sink CallbackSink
}

func NewMockProvider(failureRate float64) *MockProvider {
	return &MockProvider{
		FailureRate: failureRate,
		MinDelay:    200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}
}

func (g *MockProvider) Name() string { return "mpesa" }

// SetSink wires the receiver of simulated callbacks.
func (g *MockProvider) SetSink(sink CallbackSink) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sink = sink
}

func (g *MockProvider) SendPayout(ctx context.Context, req PayoutRequest) (Ack, error) {
	select {
	case <-time.After(g.delay() / 4):
	case <-ctx.Done():
		return Ack{}, callError("provider call canceled", ctx.Err())
	}

	if rand.Float64() < g.RejectRate {
		return Ack{}, &RejectedError{Provider: g.Name(), Code: "2001", Description: "The initiator information is invalid."}
	}

	conversationID := "MOCK-" + uuid.NewString()

	g.mu.RLock()
	sink := g.sink
	g.mu.RUnlock()
	if sink != nil {
		success := rand.Float64() >= g.FailureRate
		delay := g.delay()
		go func() {
			time.Sleep(delay)
			cb := Callback{
				ConversationID:           conversationID,
				OriginatorConversationID: req.Reference,
				Success:                  success,
				ResultCode:               "0",
				ResultDesc:               "The service request is processed successfully.",
			}
			if success {
				cb.ProviderTxnID = fmt.Sprintf("MTX%09d", rand.Intn(1_000_000_000))
			} else {
				cb.ResultCode = "1"
				cb.ResultDesc = "The balance is insufficient for the transaction."
			}
			if err := sink(context.Background(), cb); err != nil {
				zap.L().Warn("mock provider callback not applied", zap.String("conversation_id", conversationID), zap.Error(err))
			}
		}()
	}

	return Ack{ConversationID: conversationID}, nil
}

func (g *MockProvider) delay() time.Duration {
	if g.MaxDelay <= g.MinDelay {
		return g.MinDelay
	}
	return g.MinDelay + time.Duration(rand.Int63n(int64(g.MaxDelay-g.MinDelay)))
}

// BankProvider simulates the bank rail used for batch-level category transfers.
// Transfers settle inline.
type BankProvider struct {
	FailureRate float64
}

func NewBankProvider(failureRate float64) *BankProvider {
	return &BankProvider{FailureRate: failureRate}
}

func (b *BankProvider) Name() string { return "bank" }

func (b *BankProvider) SendPayout(ctx context.Context, req PayoutRequest) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, callError("provider call canceled", err)
	}
	if req.Account == "" {
		return Ack{}, &RejectedError{Provider: b.Name(), Code: "ACCT", Description: "destination account is required"}
	}
	if rand.Float64() < b.FailureRate {
		return Ack{}, &RejectedError{Provider: b.Name(), Code: "UNAVAILABLE", Description: "bank temporarily unavailable"}
	}
	ref := fmt.Sprintf("BNK-%s-%05d", time.Now().Format("20060102-150405"), rand.Intn(100000))
	return Ack{ConversationID: ref, ProviderTxnID: ref, Settled: true}, nil
}
