package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/jessevdk/go-flags"

	"morningbot/internal/app"
)

// Opts with all CLI options
type Opts struct {
	Config  string `short:"c" long:"config" env:"MORNINGBOT_CONFIG" default:"./config.yaml" description:"path to config (yaml or json)"`
	RunNow  bool   `long:"run-now" description:"trigger one morning broadcast right after start"`
	Once    bool   `long:"once" description:"send one morning broadcast and exit"`
	Version bool   `short:"V" long:"version" description:"show version info"`
}

var revision = "unknown"

const stopBudget = 10 * time.Second

func main() {
	var opts Opts
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("Version: %s\nGolang: %s\n", revision, runtime.Version())
		os.Exit(0)
	}

	a, err := app.New(opts.Config)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if opts.Once {
		go func() {
			<-sigCh
			cancel()
		}()
		rep, err := a.RunOnce(ctx)
		stop(a, app.StopRunOnce)
		if err != nil {
			fmt.Fprintln(os.Stderr, "broadcast failed:", err)
			os.Exit(1)
		}
		fmt.Printf("run %s: destinations=%d sent=%d failed=%d blacklisted=%d\n", rep.RunID, rep.Total, rep.Sent, rep.Failed, rep.Blacklisted)
		return
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		stop(a, app.StopFatalError)
		os.Exit(1)
	}
	if opts.RunNow {
		if err := a.TriggerNow(); err != nil {
			fmt.Fprintln(os.Stderr, "run-now:", err)
		}
	}

	reason := app.StopUnknown
	select {
	case sig := <-sigCh:
		reason = app.StopSIGINT
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		reason = app.StopFatalError
	}
	stop(a, reason)

	if reason == app.StopFatalError && a.Err() != nil {
		fmt.Fprintln(os.Stderr, "fatal:", a.Err())
		os.Exit(1)
	}
}

func stop(a *app.App, reason app.StopReason) {
	ctx, cancel := context.WithTimeout(context.Background(), stopBudget)
	defer cancel()
	_ = a.Stop(ctx, reason)
}
