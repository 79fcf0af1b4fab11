package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/academy/backend/internal/infrastructure/config"
	"github.com/academy/backend/internal/infrastructure/logger"
	"github.com/academy/backend/internal/infrastructure/migration"
	"github.com/academy/backend/migrations"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const defaultMigrationsPath = "migrations"

var errUsage = errors.New("usage")

// schemaAction runs against an open migrator
type schemaAction func(m *migration.Migrator, log *zap.Logger) error

// cli holds everything a command needs. openDB is only called for commands
// that touch the schema.
type cli struct {
	path   string
	log    *zap.Logger
	out    io.Writer
	openDB func() (*sql.DB, error)
}

func main() {
	path := flag.String("path", "", "Read migrations from this directory instead of the embedded set")
	level := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Usage = func() { printUsage(os.Stderr) }
	flag.Parse()

	log, err := logger.New(&logger.Config{Level: *level, Format: "console", Output: "stdout", TimeFormat: logger.DefaultTimeFormat})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	c := &cli{path: *path, log: log, out: os.Stdout, openDB: openPostgres}
	err = c.run(flag.Args())
	_ = logger.Sync(log)
	if errors.Is(err, errUsage) {
		fmt.Fprintln(os.Stderr, err)
		printUsage(os.Stderr)
		os.Exit(2)
	}
	if err != nil {
		log.Error("Migration command failed", zap.Error(err))
		os.Exit(1)
	}
}

func openPostgres() (*sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func (c *cli) run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: command required", errUsage)
	}
	name, rest := args[0], args[1:]

	switch name {
	case "create":
		return c.create(rest)
	case "list":
		return c.list()
	}

	action, err := parseSchemaAction(name, rest)
	if err != nil {
		return err
	}

	db, err := c.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	var m *migration.Migrator
	if c.path == "" {
		m, err = migration.NewFromFS(db, migrations.FS, c.log)
	} else {
		m, err = migration.New(db, c.dir(), c.log)
	}
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	return action(m, c.log)
}

// parseSchemaAction validates arguments before any connection is opened
func parseSchemaAction(name string, args []string) (schemaAction, error) {
	switch name {
	case "up":
		return func(m *migration.Migrator, _ *zap.Logger) error { return m.Up() }, nil
	case "down":
		return func(m *migration.Migrator, _ *zap.Logger) error { return m.Down() }, nil
	case "step":
		n, err := intArg(args, "step <n>")
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, fmt.Errorf("%w: step count must not be zero", errUsage)
		}
		return func(m *migration.Migrator, _ *zap.Logger) error { return m.Steps(n) }, nil
	case "goto":
		v, err := intArg(args, "goto <version>")
		if err != nil {
			return nil, err
		}
		if v <= 0 {
			return nil, fmt.Errorf("%w: version must be positive", errUsage)
		}
		return func(m *migration.Migrator, _ *zap.Logger) error { return m.GoTo(uint(v)) }, nil
	case "force":
		v, err := intArg(args, "force <version>")
		if err != nil {
			return nil, err
		}
		return func(m *migration.Migrator, log *zap.Logger) error {
			log.Warn("Forcing schema version; the dirty flag is cleared without running SQL", zap.Int("version", v))
			return m.Force(v)
		}, nil
	case "version":
		return func(m *migration.Migrator, log *zap.Logger) error {
			v, dirty, err := m.Version()
			if err != nil {
				return err
			}
			if v == 0 {
				log.Info("No migrations applied")
				return nil
			}
			log.Info("Current schema version", zap.Uint("version", v), zap.Bool("dirty", dirty))
			return nil
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown command %q", errUsage, name)
	}
}

func intArg(args []string, usage string) (int, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("%w: migrate %s", errUsage, usage)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", errUsage, args[0])
	}
	return n, nil
}

func (c *cli) create(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: migrate create <name> [description]", errUsage)
	}
	description := ""
	if len(args) > 1 {
		description = args[1]
	}
	mf, err := migration.CreateMigration(c.dir(), args[0], description)
	if err != nil {
		return err
	}
	c.log.Info("Migration created",
		zap.Uint("version", mf.Version),
		zap.String("up_file", mf.UpPath),
		zap.String("down_file", mf.DownPath),
	)
	return nil
}

func (c *cli) list() error {
	var source fs.FS = migrations.FS
	if c.path != "" {
		source = os.DirFS(c.dir())
	}
	found, err := migration.ListMigrations(source)
	if err != nil {
		return err
	}
	for _, m := range found {
		if m.Complete() {
			fmt.Fprintln(c.out, m.BaseName())
		} else {
			fmt.Fprintf(c.out, "%s (incomplete)\n", m.BaseName())
		}
	}
	return nil
}

// dir is the on-disk migrations directory used by create and -path
func (c *cli) dir() string {
	path := c.path
	if path == "" {
		path = defaultMigrationsPath
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `usage: migrate [-path dir] [-log-level level] <command> [args]

schema commands (need ACADEMY_DATABASE_* settings):
  up | down | step <n> | goto <version> | force <version> | version

file commands:
  create <name> [description]
  list
`)
}
