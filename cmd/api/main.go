package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"paperbase.org/internal/audit"
	"paperbase.org/internal/auth"
	"paperbase.org/internal/config"
	"paperbase.org/internal/httpapi"
	"paperbase.org/internal/obs"
	"paperbase.org/internal/oidc"
	"paperbase.org/internal/store/pg"
	"paperbase.org/internal/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.SetupSlog(cfg.LogLevel)
	obs.Init()

	store, err := pg.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	sessions, err := auth.NewSessionManager(store.Sessions(), cfg.SessionTTL, cfg.SessionTouchInterval)
	if err != nil {
		log.Fatalf("sessions: %v", err)
	}
	tokens, err := auth.NewTokenService([]byte(cfg.TokenSecret), cfg.TokenIssuer, cfg.AccessTTL, cfg.RefreshTTL)
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}
	apikeys, err := auth.NewAPIKeyManager(store.APIKeys(), cfg.APIKeyTouchInterval)
	if err != nil {
		log.Fatalf("api keys: %v", err)
	}
	service, err := auth.NewService(store, sessions, tokens, apikeys, auth.LockoutPolicy{
		Threshold: cfg.LockoutThreshold,
		Window:    cfg.LockoutWindow,
	})
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}
	resolver, err := auth.NewResolver(store.Users(), sessions, tokens, apikeys)
	if err != nil {
		log.Fatalf("resolver: %v", err)
	}

	var sso *oidc.Provider
	if cfg.SSOEnabled() {
		sso, err = oidc.NewProvider(oidc.Config{
			Issuer:        cfg.SSOIssuer,
			ClientID:      cfg.SSOClientID,
			ClientSecret:  cfg.SSOClientSecret,
			RedirectURL:   cfg.SSORedirectURL,
			Scopes:        strings.Fields(cfg.SSOScopes),
			AutoProvision: cfg.SSOAutoProvision,
			StateSecret:   []byte(cfg.TokenSecret),
			CacheTTL:      cfg.SSOCacheTTL,
			Timeout:       cfg.SSOTimeout,
		})
		if err != nil {
			log.Fatalf("sso provider: %v", err)
		}
	}

	events := stream.New()
	audit.Attach(events)

	api := httpapi.New(service, resolver, auth.NewCSRFGuard(cfg.CSRFHeader), sso,
		httpapi.ReadyProbeFunc(store.Ping), httpapi.Options{
			Version:       cfg.Version,
			SecureCookies: cfg.SecureCookies,
			LoginBurst:    cfg.LoginRateBurst,
			LoginPerSec:   cfg.LoginRatePerSecond,
			Events:        events,
		})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// No write timeout: /v1/auth/events holds its response open.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Starting paperbase-auth %s on %s", cfg.Version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
