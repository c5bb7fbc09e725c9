// Package main starts the sandbox collaborator: an in-memory REST and push
// server implementing the auth endpoints the client shell talks to, with
// optional TLS.
package main

import (
	"cmp"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"go.uber.org/zap"

	"github.com/carthagofood/carthago/internal/config"
	"github.com/carthagofood/carthago/internal/logger"
	"github.com/carthagofood/carthago/internal/push"
	"github.com/carthagofood/carthago/internal/repository"
	"github.com/carthagofood/carthago/internal/server/handler/http"
	"github.com/carthagofood/carthago/internal/service"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	options, err := config.ParseSandbox(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(options.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, "failed to init logger:", err)
		os.Exit(1)
	}
	zapLogger := log.Log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, options, zapLogger); err != nil {
		zapLogger.Fatal("sandbox stopped", zap.Error(err))
	}
}

func run(ctx context.Context, options *config.SandboxOptions, log *zap.Logger) error {
	users := repository.NewMemoryUserRepository()
	otps := repository.NewMemoryOTPRepository()
	repository.StartExpiryCleaner(ctx, otps, time.Minute, log)

	issuer := service.NewTokenIssuer(options.JWTSecret, options.TokenTTL)
	hub := push.NewHub(log)
	defer hub.Close()

	authService := service.NewAuthService(users, otps, issuer,
		service.WithLogger(log),
		service.WithPublisher(hub),
		service.WithOTPTTL(options.OTPTTL),
		service.WithOTPInterval(options.OTPInterval),
	)
	if options.AdminPassword != "" {
		if err := authService.SeedAdmin(ctx, options.AdminName, options.AdminEmail, options.AdminPassword); err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
		log.Info("admin account ready", zap.String("email", options.AdminEmail))
	}

	router := http.NewRouter(
		&http.AuthHandler{AuthService: authService},
		&http.PushHandler{Hub: hub, Log: log},
		&http.AdminHandler{AuthService: authService},
		issuer,
		log,
	)

	server := &nethttp.Server{
		Addr:              options.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if options.TLS() {
		cert, err := tls.LoadX509KeyPair(options.CertFile, options.KeyFile)
		if err != nil {
			return fmt.Errorf("load server TLS cert/key: %w", err)
		}
		server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting sandbox server", zap.String("addr", options.Addr), zap.Bool("tls", options.TLS()))
		if options.TLS() {
			errCh <- server.ListenAndServeTLS("", "")
		} else {
			errCh <- server.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down sandbox server")
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, nethttp.ErrServerClosed) {
		return err
	}
	return nil
}
