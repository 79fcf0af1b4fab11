package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/academy/backend/internal/application/access"
	"github.com/academy/backend/internal/application/enrollment"
	"github.com/academy/backend/internal/application/ledger"
	"github.com/academy/backend/internal/infrastructure/auth"
	"github.com/academy/backend/internal/infrastructure/config"
	"github.com/academy/backend/tests/testutil"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type cliFixture struct {
	db   *gorm.DB
	open opener
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	return &cliFixture{
		db: db,
		open: func(*cobra.Command) (*runtime, error) {
			return newRuntime(db, time.UTC, zap.NewNop()), nil
		},
	}
}

func (f *cliFixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(f.open)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func decodeOut[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(out), &v), out)
	return v
}

func TestContractsCommands(t *testing.T) {
	f := newCLIFixture(t)
	group := testutil.SeedGroup(t, f.db, "A", 2020, 3, 2025)
	student := testutil.SeedStudent(t, f.db, group, "Ali", "face-ali")
	testutil.SeedContract(t, f.db, student, group, 1, "600", testutil.Date(2025, 9, 1), testutil.Date(2026, 5, 31))
	cohort := []string{"--group-id", group.ID.String(), "--birth-year", "2020", "--archive-year", "2025"}

	out, err := f.run(t, append([]string{"contracts", "available"}, cohort...)...)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, decodeOut[map[string][]int](t, out)["sequences"])

	out, err = f.run(t, append([]string{"contracts", "next"}, cohort...)...)
	require.NoError(t, err)
	assert.Equal(t, "NA22020", decodeOut[enrollment.AvailableNumber](t, out).ContractNumber)

	out, err = f.run(t, append([]string{"contracts", "validate", "NA12020"}, cohort...)...)
	require.NoError(t, err)
	result := decodeOut[enrollment.ValidationResult](t, out)
	assert.False(t, result.Valid)
	assert.Equal(t, enrollment.ReasonAlreadyUsed, result.Reason)

	t.Run("cohort flags are required", func(t *testing.T) {
		_, err := f.run(t, "contracts", "next", "--birth-year", "2020")
		assert.Error(t, err)
	})

	t.Run("group id must parse", func(t *testing.T) {
		_, err := f.run(t, "contracts", "next", "--group-id", "x", "--birth-year", "2020", "--archive-year", "2025")
		assert.ErrorContains(t, err, "invalid --group-id")
	})

	out, err = f.run(t, "contracts", "archive-year", "2025")
	require.NoError(t, err)
	assert.EqualValues(t, 1, decodeOut[enrollment.ArchiveYearResult](t, out).Contracts)
}

func TestDebtCommands(t *testing.T) {
	f := newCLIFixture(t)
	group := testutil.SeedGroup(t, f.db, "A", 2020, 3, 2025)
	student := testutil.SeedStudent(t, f.db, group, "Ali", "face-ali")
	testutil.SeedContract(t, f.db, student, group, 1, "600", testutil.Date(2025, 9, 1), testutil.Date(2026, 5, 31))

	out, err := f.run(t, "debt", "snapshot", student.ID.String(), "--as-of", "2025-10-15")
	require.NoError(t, err)
	snap := decodeOut[ledger.DebtSnapshot](t, out)
	assert.True(t, snap.Debt.Equal(decimal.NewFromInt(1200)), "got %s", snap.Debt)

	out, err = f.run(t, "debt", "report", student.ID.String(), "--from", "2025-08-01", "--to", "2025-10-31")
	require.NoError(t, err)
	report := decodeOut[ledger.StudentDebtReport](t, out)
	assert.Len(t, report.Periods, 3)
	assert.True(t, report.Debt.Equal(decimal.NewFromInt(1200)))

	_, err = f.run(t, "debt", "report", student.ID.String(), "--from", "2025-08-01")
	assert.Error(t, err, "a half open range is rejected")

	_, err = f.run(t, "debt", "snapshot", "not-a-uuid")
	assert.ErrorContains(t, err, "invalid student id")
}

func TestGateAdmitCommand(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run(t, "gate", "admit")
	assert.ErrorContains(t, err, "--student-id or --face-id")

	out, err := f.run(t, "gate", "admit", "--face-id", "stranger")
	require.NoError(t, err)
	decision := decodeOut[access.GateDecision](t, out)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "not found", decision.Reason)

	var logged int64
	require.NoError(t, f.db.Table("gate_logs").Count(&logged).Error)
	assert.EqualValues(t, 1, logged)
}

func TestIssueToken(t *testing.T) {
	cfg := config.JWTConfig{Secret: "cli-test-secret-of-at-least-32-chars", Issuer: "academy-test"}
	cmd := tokenCmd().Commands()[0]
	var out bytes.Buffer
	cmd.SetOut(&out)
	require.NoError(t, cmd.Flags().Set("username", "desk"))
	require.NoError(t, cmd.Flags().Set("operator-id", "00000000-0000-0000-0000-0000000000aa"))

	require.NoError(t, issueToken(cmd, cfg))
	issued := decodeOut[auth.IssuedToken](t, out.String())

	claims, err := auth.NewJWTService(cfg).ValidateToken(issued.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "00000000-0000-0000-0000-0000000000aa", claims.Subject)
	assert.Equal(t, "operator", claims.Role)
}
