package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/profitledger/backend/internal/infrastructure/config"
	"github.com/profitledger/backend/internal/infrastructure/logger"
	"github.com/profitledger/backend/internal/infrastructure/migration"
	"go.uber.org/zap"
)

type command struct {
	usage string
	help  string
	// offline commands only read the migration source
	offline bool
	run     func(env *cliEnv, args []string) error
}

type cliEnv struct {
	log      *zap.Logger
	migrator *migration.Migrator
	source   string
	yes      bool
}

var commands = map[string]command{
	"up": {
		usage: "up",
		help:  "Apply all pending migrations",
		run:   func(env *cliEnv, _ []string) error { return env.migrator.Up() },
	},
	"down": {
		usage: "down -yes",
		help:  "Roll back every migration (drops all ledger data)",
		run: func(env *cliEnv, _ []string) error {
			if !env.yes {
				return errors.New("down drops every ledger table; re-run with -yes to confirm")
			}
			return env.migrator.Down()
		},
	},
	"step": {
		usage: "step <n>",
		help:  "Apply n migrations, negative n rolls back",
		run: func(env *cliEnv, args []string) error {
			n, err := intArg(args, "step count")
			if err != nil {
				return err
			}
			return env.migrator.Steps(n)
		},
	},
	"version": {
		usage: "version",
		help:  "Show the applied migration version",
		run: func(env *cliEnv, _ []string) error {
			version, dirty, err := env.migrator.Version()
			if err != nil {
				return err
			}
			env.log.Info("Current migration version", zap.Uint("version", version), zap.Bool("dirty", dirty))
			return nil
		},
	},
	"status": {
		usage: "status",
		help:  "Show applied and pending migrations",
		run: func(env *cliEnv, _ []string) error {
			st, err := env.migrator.Status()
			if err != nil {
				return err
			}
			env.log.Info("Migration status",
				zap.Uint("version", st.Version),
				zap.Bool("dirty", st.Dirty),
				zap.Int("applied", len(st.Applied)),
				zap.Int("pending", len(st.Pending)))
			for _, name := range st.Pending {
				fmt.Println("  pending", name)
			}
			if st.Dirty {
				fmt.Println("  schema is dirty; fix the failed migration then run: migrate force <version>")
			}
			return nil
		},
	},
	"force": {
		usage: "force <version>",
		help:  "Mark a version applied without running it",
		run: func(env *cliEnv, args []string) error {
			version, err := intArg(args, "version")
			if err != nil {
				return err
			}
			return env.migrator.Force(version)
		},
	},
	"list": {
		usage:   "list",
		help:    "List available migrations",
		offline: true,
		run: func(env *cliEnv, _ []string) error {
			names, err := migration.List(migration.Source(env.source))
			if err != nil {
				return err
			}
			env.log.Info("Available migrations", zap.Int("count", len(names)))
			for _, name := range names {
				fmt.Println("  -", name)
			}
			return nil
		},
	},
}

var commandOrder = []string{"up", "down", "step", "version", "status", "force", "list"}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		path     = flag.String("path", "", "Read migrations from this directory instead of the embedded set")
		logLevel = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		yes      = flag.Bool("yes", false, "Confirm destructive commands")
	)
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		return errors.New("no command given")
	}
	cmd, ok := commands[args[0]]
	if !ok {
		printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}

	log, err := logger.New(&logger.Config{
		Level:      *logLevel,
		Format:     "console",
		Output:     "stdout",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync(log) }()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	env := &cliEnv{log: log, source: *path, yes: *yes}
	if env.source == "" {
		env.source = cfg.Database.MigrationsPath
	}

	log.Info("Migration CLI started",
		zap.String("command", args[0]),
		zap.String("source", sourceName(env.source)))

	if !cmd.offline {
		m, err := migration.Open(cfg.Database.DSN(), migration.Source(env.source), log)
		if err != nil {
			return err
		}
		defer func() {
			if err := m.Close(); err != nil {
				log.Warn("Failed to close migrator", zap.Error(err))
			}
		}()
		env.migrator = m
	}
	return cmd.run(env, args[1:])
}

func intArg(args []string, name string) (int, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("%s required", name)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, args[0])
	}
	return n, nil
}

func sourceName(path string) string {
	if path == "" {
		return "embedded"
	}
	return path
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Profit ledger schema migrations\n\nUsage:\n  migrate [flags] <command> [arguments]\n\nCommands:")
	for _, name := range commandOrder {
		c := commands[name]
		fmt.Fprintf(os.Stderr, "  %-18s %s\n", c.usage, c.help)
	}
	fmt.Fprintln(os.Stderr, "\nFlags:")
	flag.PrintDefaults()
	fmt.Fprintln(os.Stderr, "\nThe database comes from config.toml or LEDGER_DATABASE_* variables.")
}
