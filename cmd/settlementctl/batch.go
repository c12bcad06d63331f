package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/innovasure/settlement-orchestrator/internal/domain"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func generateCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:     "generate",
		Short:   "Build the settlement batch for a day",
		Example: `  settlementctl generate --date 2026-03-10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := time.Parse("2006-01-02", date)
			if err != nil {
				return fmt.Errorf("invalid --date %q: want YYYY-MM-DD", date)
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			batch, err := e.svc.Settlements.Generate(cmd.Context(), day, nil)
			if errors.Is(err, domain.ErrNoPayments) && batch != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
				err = nil
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), batch)
		},
	}
	cmd.Flags().StringVarP(&date, "date", "d", time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02"), "settlement date")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <settlement-id>",
		Short: "Show payout progress for a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid settlement id: %w", err)
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			st, err := e.svc.Status.GetStatus(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

// dispatchCmd drives every pending commission row of a batch from this
// process, bounded by DISPATCH_WORKERS.
func dispatchCmd() *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "dispatch <settlement-id>",
		Short: "Initiate and dispatch commission payouts for a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid settlement id: %w", err)
			}
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			if _, err := e.svc.Dispatch.InitiateCommissionPayouts(ctx, id, nil); err != nil {
				return err
			}
			rows, err := e.svc.Status.GetDetails(ctx, id, domain.PayoutStatusPending)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "no pending payouts")
			} else {
				bar := progressbar.NewOptions(len(rows),
					progressbar.OptionSetWriter(cmd.ErrOrStderr()),
					progressbar.OptionShowCount(),
					progressbar.OptionShowElapsedTimeOnFinish(),
					progressbar.OptionSetWidth(40),
					progressbar.OptionSetDescription("Dispatching payouts"),
					progressbar.OptionSetVisibility(!quiet),
				)

				var skipped atomic.Int64
				g, gctx := errgroup.WithContext(ctx)
				g.SetLimit(max(e.cfg.DispatchWorkers, 1))
				for _, row := range rows {
					g.Go(func() error {
						defer func() { _ = bar.Add(1) }()
						_, err := e.svc.Dispatch.Dispatch(gctx, row.ID)
						switch {
						case err == nil:
							return nil
						case errors.Is(err, domain.ErrDispatchInProgress), errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrAlreadyCompleted):
							skipped.Add(1)
							return nil
						default:
							return fmt.Errorf("dispatch payout %s: %w", row.ID, err)
						}
					})
				}
				err := g.Wait()
				_ = bar.Finish()
				fmt.Fprintln(cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				if n := skipped.Load(); n > 0 {
					zap.L().Info("payouts skipped; another dispatcher holds them", zap.Int64("count", n))
				}
			}

			st, err := e.svc.Status.GetStatus(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "hide the progress bar")
	return cmd
}

func processCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "process <settlement-id>",
		Short: "Mark a batch processed, closing unresolved categories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid settlement id: %w", err)
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			batch, err := e.svc.Settlements.Process(cmd.Context(), id, notes, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), batch)
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "operator notes stored on the batch")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
