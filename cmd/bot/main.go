package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"tgsbot/internal/app"
	"tgsbot/internal/config"
)

func main() {
	var (
		cfgPath string
		envPath string
	)
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config json/yaml (optional; env vars are enough)")
	flag.StringVar(&envPath, "env", ".env", "dotenv file loaded before the config")
	flag.Parse()

	if err := config.LoadDotEnv(envPath); err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	a, err := app.New(cfgPath)
	if err != nil {
		fatal(err)
	}
	if err := a.Start(ctx); err != nil {
		fatal(fmt.Errorf("start: %w", err))
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	_, _ = daemon.SdNotify(false, "STATUS=polling")

	var reason app.StopReason
	select {
	case sig := <-sigs:
		reason = app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	}
	signal.Stop(sigs)

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func fatal(err error) {
	var ce *config.ConfigurationError
	if errors.As(err, &ce) {
		fmt.Fprintln(os.Stderr, "configuration error:", ce.Error())
	} else {
		fmt.Fprintln(os.Stderr, "fatal:", err)
	}
	os.Exit(1)
}
