package domain

import "github.com/shopspring/decimal"

// Portion is one plan-defined share of a premium payment.
type Portion struct {
	Kind  string
	Value decimal.Decimal
}

// Share computes the portion of amount, never exceeding remaining.
// Percentages are taken against the full payment amount; fixed values are
// expressed in major units.
func (p Portion) Share(amount, remaining Money) Money {
	var share Money
	switch p.Kind {
	case CommissionPercentage:
		share = amount.Percent(p.Value)
	default:
		share = NewMoney(FromDecimal(p.Value))
	}
	if share.Cents < 0 {
		share = NewMoney(0)
	}
	return share.Min(remaining)
}

// Split is the allocation of a single payment across the settlement buckets.
// The four parts always add up to the payment amount.
type Split struct {
	AgentCommission      Money
	SuperAgentCommission Money
	Administrative       Money
	Insurance            Money
}

// SplitPayment divides amount using the plan portions. Commission owed to a
// missing beneficiary is retained by the platform as administrative income.
// Insurance receives whatever remains.
func SplitPayment(amount Money, agent, superAgent, admin Portion, hasAgent, hasSuperAgent bool) Split {
	if amount.Cents < 0 {
		amount = NewMoney(0)
	}
	remaining := amount
	var s Split

	agentShare := agent.Share(amount, remaining)
	remaining = remaining.Sub(agentShare)
	superShare := superAgent.Share(amount, remaining)
	remaining = remaining.Sub(superShare)
	adminShare := admin.Share(amount, remaining)
	remaining = remaining.Sub(adminShare)

	if hasAgent {
		s.AgentCommission = agentShare
	} else {
		adminShare = NewMoney(adminShare.Cents + agentShare.Cents)
	}
	if hasSuperAgent {
		s.SuperAgentCommission = superShare
	} else {
		adminShare = NewMoney(adminShare.Cents + superShare.Cents)
	}
	s.Administrative = adminShare
	s.Insurance = remaining
	return s
}
