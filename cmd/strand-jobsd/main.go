// Command strand-jobsd runs the strand job engine.
//
// Usage:
//
//	strand-jobsd [-config file] serve     run the HTTP API, worker and relay
//	strand-jobsd [-config file] worker    serve one worker channel on stdin/stdout
//	strand-jobsd [-config file] migrate   create or update the database schema
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jdziat/strand-jobs/pkg/config"
	"github.com/jdziat/strand-jobs/pkg/logging"
)

var errUsage = errors.New("usage: strand-jobsd [-config file] serve|worker|migrate")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "strand-jobsd:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("strand-jobsd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to a YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	switch cmd := fs.Arg(0); cmd {
	case "serve":
		logger, err := logging.Setup(cfg.Log.Level, cfg.Log.Format, stdout)
		if err != nil {
			return err
		}
		app, err := newApplication(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer app.close()
		return app.listenAndServe(ctx)

	case "worker":
		// stdout carries the channel protocol.
		logger, err := logging.Setup(cfg.Log.Level, cfg.Log.Format, stderr)
		if err != nil {
			return err
		}
		return runWorker(ctx, cfg, logger, stdin, stdout)

	case "migrate":
		logger, err := logging.Setup(cfg.Log.Level, cfg.Log.Format, stdout)
		if err != nil {
			return err
		}
		st, err := openStores(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer st.close()
		logger.Info("schema up to date", "driver", cfg.Database.Driver)
		return nil

	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}
