package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/academy/backend/internal/application/access"
	"github.com/academy/backend/internal/application/ledger"
	"github.com/academy/backend/internal/infrastructure/auth"
	"github.com/academy/backend/internal/infrastructure/config"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const dateLayout = "2006-01-02"

func cohortFlags(cmd *cobra.Command) {
	cmd.Flags().String("group-id", "", "Group ID")
	cmd.Flags().Int("birth-year", 0, "Birth year of the cohort")
	cmd.Flags().Int("archive-year", 0, "Archive year of the cohort")
	_ = cmd.MarkFlagRequired("group-id")
	_ = cmd.MarkFlagRequired("birth-year")
	_ = cmd.MarkFlagRequired("archive-year")
}

func readCohort(cmd *cobra.Command) (uuid.UUID, int, int, error) {
	raw, _ := cmd.Flags().GetString("group-id")
	groupID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, 0, 0, fmt.Errorf("invalid --group-id: %w", err)
	}
	birthYear, _ := cmd.Flags().GetInt("birth-year")
	archiveYear, _ := cmd.Flags().GetInt("archive-year")
	return groupID, birthYear, archiveYear, nil
}

func contractsCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contracts",
		Short: "Inspect and maintain contract numbers",
	}

	available := &cobra.Command{
		Use:   "available",
		Short: "List free sequence numbers of a cohort",
		RunE: withRuntime(open, func(ctx context.Context, cmd *cobra.Command, rt *runtime, _ []string) error {
			groupID, birthYear, archiveYear, err := readCohort(cmd)
			if err != nil {
				return err
			}
			free, err := rt.allocator.ListAvailable(ctx, groupID, birthYear, archiveYear)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string][]int{"sequences": free})
		}),
	}
	cohortFlags(available)

	next := &cobra.Command{
		Use:   "next",
		Short: "Show the next contract number that would be issued",
		RunE: withRuntime(open, func(ctx context.Context, cmd *cobra.Command, rt *runtime, _ []string) error {
			groupID, birthYear, archiveYear, err := readCohort(cmd)
			if err != nil {
				return err
			}
			number, err := rt.allocator.NextAvailable(ctx, groupID, birthYear, archiveYear)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), number)
		}),
	}
	cohortFlags(next)

	validate := &cobra.Command{
		Use:   "validate <contract-number>",
		Short: "Check whether a proposed contract number can be issued",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(open, func(ctx context.Context, cmd *cobra.Command, rt *runtime, args []string) error {
			groupID, birthYear, archiveYear, err := readCohort(cmd)
			if err != nil {
				return err
			}
			result, err := rt.allocator.ValidateProposed(ctx, args[0], groupID, birthYear, archiveYear)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		}),
	}
	cohortFlags(validate)

	archive := &cobra.Command{
		Use:   "archive-year <year>",
		Short: "Archive every contract and group of an archive year",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(open, func(ctx context.Context, cmd *cobra.Command, rt *runtime, args []string) error {
			year, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid year %q", args[0])
			}
			result, err := rt.allocator.ArchiveYear(ctx, year)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		}),
	}

	cmd.AddCommand(available, next, validate, archive)
	return cmd
}

func debtCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debt",
		Short: "Compute student debt",
	}

	snapshot := &cobra.Command{
		Use:   "snapshot <student-id>",
		Short: "Running balance of the ACTIVE contract, as the turnstile sees it",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(open, func(ctx context.Context, cmd *cobra.Command, rt *runtime, args []string) error {
			studentID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid student id: %w", err)
			}
			asOf := rt.debt.Now()
			if raw, _ := cmd.Flags().GetString("as-of"); raw != "" {
				if asOf, err = time.Parse(dateLayout, raw); err != nil {
					return fmt.Errorf("invalid --as-of: %w", err)
				}
			}
			snap, err := rt.debt.Snapshot(ctx, studentID, asOf)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), snap)
		}),
	}
	snapshot.Flags().String("as-of", "", "Snapshot date (YYYY-MM-DD), default today")

	report := &cobra.Command{
		Use:   "report <student-id>",
		Short: "Per-month debt over a month list or a date range",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(open, func(ctx context.Context, cmd *cobra.Command, rt *runtime, args []string) error {
			studentID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid student id: %w", err)
			}
			q, err := periodQueryFromFlags(cmd)
			if err != nil {
				return err
			}
			periods, err := q.Periods(rt.debt.Now())
			if err != nil {
				return err
			}
			result, err := rt.debt.StudentReport(ctx, studentID, periods)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		}),
	}
	report.Flags().Int("year", 0, "Report year")
	report.Flags().String("months", "", "Comma separated months, e.g. 9,10,11")
	report.Flags().String("from", "", "Range start (YYYY-MM-DD)")
	report.Flags().String("to", "", "Range end (YYYY-MM-DD)")

	cmd.AddCommand(snapshot, report)
	return cmd
}

func periodQueryFromFlags(cmd *cobra.Command) (ledger.PeriodQuery, error) {
	var q ledger.PeriodQuery
	q.Year, _ = cmd.Flags().GetInt("year")
	q.Months, _ = cmd.Flags().GetString("months")
	for name, dst := range map[string]**time.Time{"from": &q.From, "to": &q.To} {
		raw, _ := cmd.Flags().GetString(name)
		if raw == "" {
			continue
		}
		at, err := time.Parse(dateLayout, raw)
		if err != nil {
			return q, fmt.Errorf("invalid --%s: %w", name, err)
		}
		*dst = &at
	}
	return q, nil
}

func gateCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Turnstile operations",
	}

	admit := &cobra.Command{
		Use:   "admit",
		Short: "Run an admission decision and append it to the gate log",
		RunE: withRuntime(open, func(ctx context.Context, cmd *cobra.Command, rt *runtime, _ []string) error {
			var req access.GateRequest
			req.FaceID, _ = cmd.Flags().GetString("face-id")
			if raw, _ := cmd.Flags().GetString("student-id"); raw != "" {
				id, err := uuid.Parse(raw)
				if err != nil {
					return fmt.Errorf("invalid --student-id: %w", err)
				}
				req.StudentID = &id
			}
			if req.StudentID == nil && req.FaceID == "" {
				return fmt.Errorf("one of --student-id or --face-id is required")
			}
			decision, err := rt.gate.Admit(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), decision)
		}),
	}
	admit.Flags().String("student-id", "", "Student ID")
	admit.Flags().String("face-id", "", "Face recognition ID")

	cmd.AddCommand(admit)
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Operator access tokens",
	}

	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign an operator token with the configured JWT secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return issueToken(cmd, cfg.JWT)
		},
	}
	issue.Flags().String("username", "", "Operator username")
	issue.Flags().String("role", "operator", "Operator role")
	issue.Flags().String("operator-id", "", "Operator ID, random when empty")
	_ = issue.MarkFlagRequired("username")

	cmd.AddCommand(issue)
	return cmd
}

func issueToken(cmd *cobra.Command, cfg config.JWTConfig) error {
	operatorID := uuid.New()
	if raw, _ := cmd.Flags().GetString("operator-id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid --operator-id: %w", err)
		}
		operatorID = id
	}
	username, _ := cmd.Flags().GetString("username")
	role, _ := cmd.Flags().GetString("role")

	token, err := auth.NewJWTService(cfg).IssueToken(operatorID, username, role)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), token)
}
