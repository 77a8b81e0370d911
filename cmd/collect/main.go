// Command collect runs collection cycles once, either in-process against the
// configured store or by asking a running tracker service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"
	_ "time/tzdata"

	app "github.com/Mihirgupta25/open-source-tracker/internal/app"
	"github.com/Mihirgupta25/open-source-tracker/internal/config"
	"github.com/Mihirgupta25/open-source-tracker/internal/domain/model"
	"github.com/Mihirgupta25/open-source-tracker/internal/trigger"
	"github.com/Mihirgupta25/open-source-tracker/pkg/logger"
)

// Default configuration constants.
const (
	defaultTimeout = 5 * time.Minute
	defaultRetries = 3
	defaultBackoff = time.Second
)

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

var errUsage = errors.New("usage")

type options struct {
	entity  string
	kind    string
	all     bool
	remote  string
	wait    bool
	workers int
	timeout time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	if err := logger.Init(logger.WithFormat("text"), logger.WithWriter(stderr)); err != nil {
		fmt.Fprintln(stderr, "failed to initialize logging:", err)
		return exitFailed
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	if opts.remote != "" {
		return runRemote(ctx, opts, stdout)
	}
	return runLocal(ctx, opts, stdout)
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("collect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.entity, "entity", "", "Entity id to collect (owner/repo or package)")
	fs.StringVar(&opts.kind, "kind", "", "Metric kind: stars, pr_ratio, issue_ratio or downloads")
	fs.BoolVar(&opts.all, "all", false, "Collect every tracked series of every configured entity")
	fs.StringVar(&opts.remote, "remote", "", "Base URL of a running service; collect through its API instead of in-process")
	fs.BoolVar(&opts.wait, "wait", true, "With -remote, wait for each run to finish")
	fs.IntVar(&opts.workers, "workers", runtime.NumCPU(), "With -remote, number of concurrent requests")
	fs.DurationVar(&opts.timeout, "timeout", defaultTimeout, "Overall timeout")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	if opts.kind != "" {
		if _, err := model.ParseKind(opts.kind); err != nil {
			return opts, err
		}
	}
	switch {
	case opts.all && opts.entity != "":
		return opts, fmt.Errorf("%w: -all and -entity are exclusive", errUsage)
	case !opts.all && (opts.entity == "" || opts.kind == ""):
		return opts, fmt.Errorf("%w: -entity and -kind are required unless -all is set", errUsage)
	}
	return opts, nil
}

func runLocal(ctx context.Context, opts options, stdout io.Writer) int {
	log := logger.Get()
	cfg, err := config.Load(ctx)
	if err != nil {
		log.Error(ctx, "failed to load config", logger.Error(err))
		return exitFailed
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		_ = logger.SetLevelString("info")
	}

	targets := []trigger.Target{{Kind: model.MetricKind(opts.kind), EntityID: opts.entity}}
	if opts.all {
		targets = trigger.Expand(cfg.ModelEntities(), model.MetricKind(opts.kind))
		if len(targets) == 0 {
			log.Error(ctx, "no configured series to collect", logger.Error(trigger.ErrNoTargets))
			return exitFailed
		}
	}

	code := exitOK
	results := make([]model.CollectionResult, 0, len(targets))
	for _, t := range targets {
		res, err := app.RunOnce(ctx, cfg, log, t.EntityID, t.Kind)
		if err != nil {
			log.Error(ctx, "collection failed", logger.String("target", t.String()), logger.Error(err))
			return exitFailed
		}
		if res.Err() != nil {
			code = exitFailed
		}
		results = append(results, res)
	}

	if err := printJSON(stdout, results, opts.all); err != nil {
		log.Error(ctx, "failed to write result", logger.Error(err))
		return exitFailed
	}
	return code
}

func runRemote(ctx context.Context, opts options, stdout io.Writer) int {
	log := logger.Get()
	cfg := &trigger.Config{
		BaseURL: opts.remote,
		Workers: opts.workers,
		Timeout: opts.timeout,
		Wait:    opts.wait,
		Retries: defaultRetries,
		Backoff: defaultBackoff,
		Logger:  log,
	}

	targets := []trigger.Target{{Kind: model.MetricKind(opts.kind), EntityID: opts.entity}}
	if opts.all {
		entities, err := trigger.NewClient(cfg).Entities(ctx)
		if err != nil {
			log.Error(ctx, "failed to list entities", logger.Error(err))
			return exitFailed
		}
		targets = trigger.Expand(entities, model.MetricKind(opts.kind))
	}

	outcomes, stats, err := trigger.Run(ctx, cfg, targets)
	if err != nil {
		log.Error(ctx, "collection requests failed", logger.Error(err))
		return exitFailed
	}
	if err := printJSON(stdout, outcomes, opts.all); err != nil {
		log.Error(ctx, "failed to write result", logger.Error(err))
		return exitFailed
	}
	log.Info(ctx, stats.Summary())
	if stats.Failed > 0 {
		return exitFailed
	}
	return exitOK
}

// printJSON writes the single element unless many is set.
func printJSON[T any](w io.Writer, items []T, many bool) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if !many && len(items) == 1 {
		return enc.Encode(items[0])
	}
	return enc.Encode(items)
}
