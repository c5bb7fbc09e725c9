// Package main is the interactive client shell of the food-delivery
// platform. It keeps the session on disk between runs and prints push
// notifications as they arrive.
package main

import (
	"cmp"
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/carthagofood/carthago/internal/client/app"
	"github.com/carthagofood/carthago/internal/client/notify"
	"github.com/carthagofood/carthago/internal/config"
	"github.com/carthagofood/carthago/internal/logger"
)

var (
	version   string
	buildDate string
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("Carthago Client\nVersion: %s\nBuild Date: %s\n", cmp.Or(version, "N/A"), cmp.Or(buildDate, "N/A"))
		return
	}

	options, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(options.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, "failed to init logger:", err)
		os.Exit(1)
	}

	out := &lockedWriter{w: os.Stdout}
	alerter := notify.NewWriterAlerter(out, notify.PermissionDefault)
	sh := newShell(os.Stdin, out, alerter)

	a, err := app.New(options, log.Log, app.Deps{Navigator: sh, Alerter: alerter})
	if err != nil {
		log.Log.Fatal("failed to start client", zap.Error(err))
	}
	defer a.Close()
	sh.app = a

	fmt.Fprintln(out, "Carthago client. Type 'help' for a list of commands.")
	if a.Session.IsAuthenticated() {
		sh.welcome()
	}
	sh.run(context.Background())
}
