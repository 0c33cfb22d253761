package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"koperasi/backend/internal/app"
	"koperasi/backend/internal/config"
	"koperasi/backend/internal/httpapi"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rt, err := app.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), rt.Repo)
	api := httpapi.New(rt.Service, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      writeTimeout(cfg),
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("sales backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	if err := rt.Close(); err != nil {
		log.Printf("close error: %v", err)
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}

// writeTimeout leaves room for an edit, which can run about twenty store
// steps back to back.
func writeTimeout(cfg config.Config) time.Duration {
	d := 4 * cfg.StepTimeout()
	if d < 10*time.Second {
		return 10 * time.Second
	}
	return d
}
