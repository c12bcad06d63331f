package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/innovasure/settlement-orchestrator/internal/domain"
	"github.com/innovasure/settlement-orchestrator/internal/models"
	"github.com/innovasure/settlement-orchestrator/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type portionFixture struct {
	Kind  string `yaml:"kind"`
	Value string `yaml:"value"`
}

type planFixture struct {
	ID         string         `yaml:"id"`
	Name       string         `yaml:"name"`
	Agent      portionFixture `yaml:"agent_commission"`
	SuperAgent portionFixture `yaml:"super_agent_commission"`
	AdminFee   portionFixture `yaml:"admin_fee"`
}

type beneficiaryFixture struct {
	ID       string `yaml:"id"`
	Type     string `yaml:"type"`
	Name     string `yaml:"name"`
	Phone    string `yaml:"phone"`
	Provider string `yaml:"provider"`
}

type paymentFixture struct {
	ID           string `yaml:"id"`
	MemberID     string `yaml:"member_id"`
	PlanID       string `yaml:"plan_id"`
	AgentID      string `yaml:"agent_id"`
	SuperAgentID string `yaml:"super_agent_id"`
	Amount       string `yaml:"amount"`
	AllocatedAt  string `yaml:"allocated_at"`
}

// fixtures is the YAML layout accepted by `settlementctl seed`.
type fixtures struct {
	Plans         []planFixture        `yaml:"plans"`
	Beneficiaries []beneficiaryFixture `yaml:"beneficiaries"`
	Payments      []paymentFixture     `yaml:"payments"`
}

type seedData struct {
	plans         []models.Plan
	beneficiaries []models.Beneficiary
	payments      []models.Payment
}

func seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load plans, beneficiaries and allocated payments from a YAML file",
		Example: `  settlementctl seed --file fixtures.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("open fixtures: %w", err)
			}
			defer f.Close()

			data, err := loadFixtures(f)
			if err != nil {
				return err
			}

			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			ctx := cmd.Context()
			if err := e.svc.Store.RunInTx(ctx, func(q repository.Querier) error {
				return data.apply(ctx, q)
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d plans, %d beneficiaries, %d payments\n",
				len(data.plans), len(data.beneficiaries), len(data.payments))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "fixtures.yaml", "fixture file")
	return cmd
}

func loadFixtures(r io.Reader) (*seedData, error) {
	var raw fixtures
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode fixtures: %w", err)
	}

	now := time.Now().UTC()
	data := &seedData{}
	for i, p := range raw.Plans {
		id, err := parseID(p.ID, "plans", i)
		if err != nil {
			return nil, err
		}
		plan := models.Plan{ID: id, Name: p.Name, CreatedAt: now}
		for _, portion := range []struct {
			in  portionFixture
			out *models.CommissionPortion
		}{
			{p.Agent, &plan.AgentCommission},
			{p.SuperAgent, &plan.SuperAgentCommission},
			{p.AdminFee, &plan.AdminFee},
		} {
			if *portion.out, err = parsePortion(portion.in); err != nil {
				return nil, fmt.Errorf("plans[%d]: %w", i, err)
			}
		}
		data.plans = append(data.plans, plan)
	}

	for i, b := range raw.Beneficiaries {
		id, err := parseID(b.ID, "beneficiaries", i)
		if err != nil {
			return nil, err
		}
		if b.Type != domain.BeneficiaryAgent && b.Type != domain.BeneficiarySuperAgent {
			return nil, fmt.Errorf("beneficiaries[%d]: unknown type %q", i, b.Type)
		}
		provider := b.Provider
		if provider == "" {
			provider = domain.ProviderMpesa
		}
		data.beneficiaries = append(data.beneficiaries, models.Beneficiary{
			ID: id, Type: b.Type, Name: b.Name, Phone: b.Phone, Provider: provider, CreatedAt: now,
		})
	}

	for i, p := range raw.Payments {
		id, err := parseID(p.ID, "payments", i)
		if err != nil {
			return nil, err
		}
		payment := models.Payment{ID: id}
		if payment.MemberID, err = uuid.Parse(p.MemberID); err != nil {
			return nil, fmt.Errorf("payments[%d].member_id: %w", i, err)
		}
		if payment.PlanID, err = uuid.Parse(p.PlanID); err != nil {
			return nil, fmt.Errorf("payments[%d].plan_id: %w", i, err)
		}
		if payment.AgentID, err = optionalID(p.AgentID); err != nil {
			return nil, fmt.Errorf("payments[%d].agent_id: %w", i, err)
		}
		if payment.SuperAgentID, err = optionalID(p.SuperAgentID); err != nil {
			return nil, fmt.Errorf("payments[%d].super_agent_id: %w", i, err)
		}
		if payment.Amount, err = decimal.NewFromString(p.Amount); err != nil || !payment.Amount.IsPositive() {
			return nil, fmt.Errorf("payments[%d].amount: must be a positive decimal", i)
		}
		if payment.AllocatedAt, err = time.Parse(time.RFC3339, p.AllocatedAt); err != nil {
			return nil, fmt.Errorf("payments[%d].allocated_at: %w", i, err)
		}
		data.payments = append(data.payments, payment)
	}
	return data, nil
}

func (d *seedData) apply(ctx context.Context, q repository.Querier) error {
	for _, p := range d.plans {
		if err := q.UpsertPlan(ctx, p); err != nil {
			return fmt.Errorf("upsert plan %s: %w", p.ID, err)
		}
	}
	for _, b := range d.beneficiaries {
		if err := q.UpsertBeneficiary(ctx, b); err != nil {
			return fmt.Errorf("upsert beneficiary %s: %w", b.ID, err)
		}
	}
	for _, p := range d.payments {
		if err := q.InsertPayment(ctx, p); err != nil {
			return fmt.Errorf("insert payment %s: %w", p.ID, err)
		}
	}
	return nil
}

func parseID(raw, section string, i int) (uuid.UUID, error) {
	if raw == "" {
		return uuid.New(), nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s[%d].id: %w", section, i, err)
	}
	return id, nil
}

func optionalID(raw string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func parsePortion(p portionFixture) (models.CommissionPortion, error) {
	if p.Kind == "" && p.Value == "" {
		return models.CommissionPortion{Kind: domain.CommissionFixed, Value: decimal.Zero}, nil
	}
	if p.Kind != domain.CommissionFixed && p.Kind != domain.CommissionPercentage {
		return models.CommissionPortion{}, fmt.Errorf("unknown commission kind %q", p.Kind)
	}
	v, err := decimal.NewFromString(p.Value)
	if err != nil || v.IsNegative() {
		return models.CommissionPortion{}, fmt.Errorf("commission value %q must be a non-negative decimal", p.Value)
	}
	return models.CommissionPortion{Kind: p.Kind, Value: v}, nil
}
