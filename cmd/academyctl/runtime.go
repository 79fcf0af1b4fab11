package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/academy/backend/internal/application/access"
	"github.com/academy/backend/internal/application/enrollment"
	"github.com/academy/backend/internal/application/ledger"
	"github.com/academy/backend/internal/infrastructure/config"
	"github.com/academy/backend/internal/infrastructure/logger"
	"github.com/academy/backend/internal/infrastructure/persistence"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// runtime holds the services a command needs, built over one database handle
type runtime struct {
	allocator *enrollment.AllocatorService
	debt      *ledger.DebtService
	gate      *access.GateService
	close     func() error
}

// opener builds a runtime; tests swap it for an in-memory database
type opener func(cmd *cobra.Command) (*runtime, error)

func openRuntime(cmd *cobra.Command) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	level, _ := cmd.Flags().GetString("log-level")
	log, err := logger.New(&logger.Config{Level: level, Format: "console", Output: "stderr"})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := persistence.NewDatabase(&cfg.Database, logger.NewGormLogger(log, logger.MapGormLogLevel(level), cfg.Database.SlowQueryThreshold))
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	rt := newRuntime(db.DB, cfg.App.Location(), log)
	rt.close = func() error {
		_ = logger.Sync(log)
		return db.Close()
	}
	return rt, nil
}

func newRuntime(db *gorm.DB, loc *time.Location, log *zap.Logger) *runtime {
	groups := persistence.NewGormGroupRepository(db)
	students := persistence.NewGormStudentRepository(db)
	contracts := persistence.NewGormContractRepository(db)
	transactions := persistence.NewGormTransactionRepository(db)

	return &runtime{
		allocator: enrollment.NewAllocatorService(groups, students, contracts, nil, log),
		debt:      ledger.NewDebtService(students, contracts, transactions, loc, log),
		gate:      access.NewGateService(students, contracts, transactions, persistence.NewGormGateLogRepository(db), loc, log),
		close:     func() error { return nil },
	}
}

// withRuntime opens the runtime around fn and closes it afterwards
func withRuntime(open opener, fn func(ctx context.Context, cmd *cobra.Command, rt *runtime, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		rt, err := open(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = rt.close() }()
		return fn(cmd.Context(), cmd, rt, args)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
