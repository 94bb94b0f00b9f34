package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/target/listing-relay/config"
	"github.com/target/listing-relay/internal/bootstrap"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
	Out    io.Writer
	In     io.Reader
}

const (
	defaultMigrationTimeout = 5 * time.Minute
	defaultCommandTimeout   = 2 * time.Minute
)

func main() {
	logger := bootstrap.InitLogger()

	if len(os.Args) < 2 {
		if err := printUsage(os.Stdout); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(os.Stdout); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
		Out:    os.Stdout,
		In:     os.Stdin,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Run database migrations",
			run:         runMigrations,
		},
		"submit-job": {
			name:        "submit-job",
			description: "Queue a scrape job for a source and region",
			run:         runSubmitJob,
		},
		"job-status": {
			name:        "job-status",
			description: "Show a job's status, attempts and error history",
			run:         runJobStatus,
		},
		"list-deliveries": {
			name:        "list-deliveries",
			description: "List webhook deliveries (unresolved failures by default)",
			run:         runListDeliveries,
		},
		"retry-delivery": {
			name:        "retry-delivery",
			description: "Retry one failed delivery",
			run:         runRetryDelivery,
		},
		"retry-all": {
			name:        "retry-all",
			description: "Retry every unresolved failed delivery",
			run:         runRetryAll,
		},
		"replay-delivery": {
			name:        "replay-delivery",
			description: "Redeliver one delivery regardless of its status",
			run:         runReplayDelivery,
		},
		"replay-all": {
			name:        "replay-all",
			description: "Redeliver deliveries matching an event type, subscription or time filter",
			run:         runReplayAll,
		},
		"resolve-delivery": {
			name:        "resolve-delivery",
			description: "Mark a delivery resolved without redelivering it",
			run:         runResolveDelivery,
		},
		"seal-secret": {
			name:        "seal-secret",
			description: "Seal a webhook signing secret with SUBSCRIPTION_SECRET_KEY",
			run:         runSealSecret,
		},
	}
}

func printUsage(w io.Writer) error {
	if err := writef(w, "Usage: listingrelay-admin <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(w, "Available commands:\n"); err != nil {
		return err
	}
	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := writef(w, "  %-20s %s\n", name, cmds[name].description); err != nil {
			return err
		}
	}
	return nil
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}
