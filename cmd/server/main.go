package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"session-service/internal/config"
	"session-service/internal/factory"
	"session-service/internal/handler"
	"session-service/internal/presence"
	"session-service/internal/util"
)

func main() {
	// Initialize factory (which loads config and initializes all clients)
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()

	bootstrapSession(f)

	router := setupRouter(f)

	var serverAddr string
	if cfg.Server.EnableTLS {
		serverAddr = fmt.Sprintf(":%d", cfg.Server.TLSPort)
	} else {
		serverAddr = cfg.GetServerAddress()
	}

	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.Server.EnableTLS {
		server.TLSConfig = f.TLSManager().GetTLSConfig()
		util.Info("Starting HTTPS server",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.TLSPort),
			util.Bool("auto_cert", cfg.Server.AutoCert),
		)
	} else {
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.Port),
		)
	}

	run(f, server, cfg)
}

// bootstrapSession restores a persisted session if one survives its timeouts
// and, when an identity is present, brings the presence channel up.
func bootstrapSession(f *factory.Factory) {
	controller := f.Controller()
	if !controller.Restore() {
		util.Info("No persisted session to restore")
		return
	}

	profile := controller.Profile()
	if profile == nil {
		return
	}

	channel := f.PresenceChannel()
	channel.SetIdentity(&presence.Identity{
		UserID:   profile.ID,
		UserType: profile.Role,
	})
	channel.Connect()
}

// setupRouter creates the HTTP router with all handlers using Chi
func setupRouter(f *factory.Factory) http.Handler {
	sessionHandler := handler.NewSessionHandler(f.Controller(), f.Signals(), util.Get())
	presenceHandler := handler.NewPresenceHandler(f.PresenceChannel(), util.Get())
	return handler.NewRouter(sessionHandler, presenceHandler, f.HealthCheck, util.Get(), f.Config().Server.EnableTLS)
}

// run serves until a termination signal arrives, then shuts everything down
// gracefully.
func run(f *factory.Factory, server *http.Server, cfg *config.Config) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)

	var challengeServer *http.Server
	if cfg.Server.EnableTLS && cfg.IsProduction() && cfg.Server.AutoCert {
		autoCertManager := f.TLSManager().GetAutocertManager()
		if autoCertManager == nil {
			util.Fatal("AutoCert manager is not available in production")
		}
		// Port 80 handles the ACME challenge and redirects everything else.
		challengeServer = &http.Server{
			Addr:    ":80",
			Handler: autoCertManager.HTTPHandler(nil),
		}
		group.Go(func() error {
			util.Info("Starting HTTP challenge server on port 80")
			if err := challengeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http challenge server: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		var err error
		switch {
		case !cfg.Server.EnableTLS:
			err = server.ListenAndServe()
		case cfg.Server.CertFile != "" && cfg.Server.KeyFile != "":
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		default:
			err = server.ListenAndServeTLS("", "")
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-gctx.Done()
		util.Info("Shutdown requested")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if challengeServer != nil {
			if err := challengeServer.Shutdown(shutdownCtx); err != nil {
				util.Error("Failed to shutdown challenge server gracefully", util.ErrorField(err))
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			util.Error("Failed to shutdown server gracefully", util.ErrorField(err))
			return err
		}
		util.Info("Server shutdown completed")
		return nil
	})

	util.Info("Server started successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.String("address", server.Addr),
	)

	if err := group.Wait(); err != nil {
		util.Error("Server exited with error", util.ErrorField(err))
	}
	f.Close()
}
