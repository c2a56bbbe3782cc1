package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
)

const usage = `stepflow - declarative workflow engine

Usage:
  stepflow serve               serve the MCP tools over stdio
  stepflow run [flags] <id>    run a workflow interactively in the terminal
  stepflow validate [-dir d]   validate workflow and agent definitions
  stepflow diagram [flags] <id> render a workflow, optionally with an execution's progress
  stepflow sweep               delete expired terminal executions once
  stepflow version             print the version
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := dispatch(ctx, loadConfig(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			color.New(color.FgRed).Fprintln(os.Stderr, err)
		}
		stop()
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, cfg Config, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return flag.ErrHelp
	}

	switch args[0] {
	case "serve":
		return cmdServe(ctx, cfg, stderr)
	case "run":
		return cmdRun(ctx, cfg, args[1:], stdin, stdout, stderr)
	case "validate":
		return cmdValidate(cfg, args[1:], stdout)
	case "diagram":
		return cmdDiagram(ctx, cfg, args[1:], stdout, stderr)
	case "sweep":
		return cmdSweep(ctx, cfg, stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, "stepflow", version)
		return nil
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprint(stderr, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// cmdServe runs the MCP server on stdio. Logs go to stderr since stdout carries the protocol.
func cmdServe(ctx context.Context, cfg Config, stderr io.Writer) error {
	logger := newLogger(cfg, stderr)
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	sweeper, err := a.sweeper()
	if err != nil {
		return err
	}
	if err := sweeper.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = sweeper.Stop() }()

	logger.Info("stepflow serving",
		slog.String("version", version),
		slog.Int("workflows", len(a.loader.Workflows())),
		slog.Int("agents", len(a.loader.Agents())),
		slog.String("db", cfg.DBPath),
	)
	err = a.mcpServer().Serve(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func cmdSweep(ctx context.Context, cfg Config, stdout, stderr io.Writer) error {
	logger := newLogger(cfg, stderr)
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	sweeper, err := a.sweeper()
	if err != nil {
		return err
	}
	n, err := sweeper.Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "removed %d executions older than %s\n", n, cfg.Retention)
	return nil
}
