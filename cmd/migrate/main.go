package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/lackmarkt-backend/pkg/config"
	"github.com/angelmondragon/lackmarkt-backend/pkg/db"
	"github.com/angelmondragon/lackmarkt-backend/pkg/logger"
	"github.com/angelmondragon/lackmarkt-backend/pkg/migrate"
)

const usage = `usage: migrate [-dir path] <command> [arg]

commands:
  up              apply all pending migrations
  down            roll back the latest migration
  to <version>    migrate up or down to version
  status          list migrations and when they were applied
  version         print the current schema version
  create <name>   write a new empty migration into -dir
  validate        check migration names and goose sections

-dir defaults to the migrations embedded in this binary (create and
validate default to ` + migrate.SourceDir + `).
`

func main() {
	flags := flag.NewFlagSet("migrate", flag.ExitOnError)
	flags.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	dir := flags.String("dir", "", "migrations directory")
	_ = flags.Parse(os.Args[1:])
	if flags.NArg() == 0 {
		flags.Usage()
		os.Exit(2)
	}
	cmd, args := flags.Arg(0), flags.Args()[1:]

	_ = godotenv.Load()
	logg := logger.New(logger.Options{ServiceName: "migrate", Level: logger.ParseLevel(os.Getenv(config.EnvLogLevel))})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"cmd": cmd, "dir": *dir})

	if err := run(ctx, logg, cmd, *dir, args); err != nil {
		logg.Error(ctx, "migrate failed", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logg *logger.Logger, cmd, dir string, args []string) error {
	switch cmd {
	case "create":
		if len(args) != 1 {
			return errors.New("create needs exactly one name")
		}
		if dir == "" {
			dir = migrate.SourceDir
		}
		path, err := migrate.Create(dir, args[0], time.Now())
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	case "validate":
		if dir == "" {
			dir = migrate.SourceDir
		}
		src, err := migrate.Source(dir)
		if err != nil {
			return err
		}
		if err := migrate.Validate(src); err != nil {
			return err
		}
		logg.Info(ctx, "migrations valid")
		return nil
	}

	m, closeDB, err := open(ctx, logg, dir)
	if err != nil {
		return err
	}
	defer closeDB()

	switch cmd {
	case "up":
		applied, err := m.Up(ctx)
		logg.Info(logg.WithField(ctx, "applied", applied), "migrations applied")
		return err
	case "down":
		version, err := m.Down(ctx)
		if err != nil {
			return err
		}
		logg.Info(logg.WithField(ctx, "version", version), "migration rolled back")
		return nil
	case "to":
		if len(args) != 1 {
			return errors.New("to needs a target version")
		}
		target, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("version %q: %w", args[0], err)
		}
		return m.To(ctx, target)
	case "version":
		v, err := m.Version(ctx)
		if err != nil {
			return err
		}
		fmt.Println(v)
		return nil
	case "status":
		return printStatus(ctx, m)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func open(ctx context.Context, logg *logger.Logger, dir string) (*migrate.Migrator, func(), error) {
	dbCfg, err := config.LoadDB()
	if err != nil {
		return nil, nil, err
	}
	client, err := db.New(ctx, dbCfg, logg)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if err := client.Close(); err != nil {
			logg.Error(ctx, "closing database", err)
		}
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	src, err := migrate.Source(dir)
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	m, err := migrate.NewMigrator(sqlDB, src)
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	return m, closeDB, nil
}

func printStatus(ctx context.Context, m *migrate.Migrator) error {
	statuses, err := m.Status(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSTATE\tAPPLIED AT\tFILE")
	for _, s := range statuses {
		applied := "-"
		if !s.AppliedAt.IsZero() {
			applied = s.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Source.Version, s.State, applied, s.Source.Path)
	}
	return w.Flush()
}
