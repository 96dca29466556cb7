package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ganesh-ai/internal/admin"
	"ganesh-ai/internal/ai"
	"ganesh-ai/internal/assistant"
	"ganesh-ai/internal/bot"
	"ganesh-ai/internal/cache"
	"ganesh-ai/internal/config"
	"ganesh-ai/internal/database"
	"ganesh-ai/internal/ledger"
	"ganesh-ai/internal/payment"
	"ganesh-ai/internal/store"
	"ganesh-ai/internal/worker"
)

func main() {
	// Load Configuration
	cfg := config.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to Database
	db, err := database.Open(cfg)
	if err != nil {
		log.Fatalf("Could not connect to database: %v", err)
	}

	st := store.New(db)
	svc := ledger.NewService(st, cfg.Policy())
	asst := assistant.New(ai.NewClient(cfg.AIBaseURL, cfg.AIKey, cfg.AIModel), svc)
	payments := payment.NewHandler(payment.NewClient(cfg.RazorpayKeyID, cfg.RazorpayKeySecret), db, svc, nil, cfg.PublicURL)

	// Redis only backs expiry warning markers
	var dedupe worker.Deduper
	if rdb, err := cache.Connect(ctx, cfg.RedisHost, cfg.RedisPort, cfg.RedisPassword); err != nil {
		log.Printf("Redis unavailable, expiry warnings disabled: %v", err)
	} else {
		defer rdb.Close()
		dedupe = cache.NewDeduper(rdb, "ganesh:")
	}

	var notifier worker.Notifier
	if cfg.BotToken == "" {
		log.Println("TELEGRAM_TOKEN not set, running without the bot")
	} else {
		b, err := bot.NewBot(cfg.BotToken, svc, asst, payments)
		if err != nil {
			log.Fatalf("Could not create bot: %v", err)
		}
		payments.Notifier = b
		notifier = b
		go func() {
			if err := b.Start(ctx); err != nil {
				log.Printf("Bot stopped: %v", err)
			}
		}()
	}

	checker := worker.NewChecker(svc, dedupe, notifier)
	if err := checker.Start(cfg.ExpiryCheckSpec); err != nil {
		log.Fatalf("Could not start worker: %v", err)
	}
	defer checker.Stop()

	mux := http.NewServeMux()
	admin.NewServer(svc, st, cfg.AdminUser, cfg.AdminPassword, cfg.AdminAllowedCIDRs).Register(mux)
	mux.HandleFunc("POST /payments/razorpay/callback", payments.HandleCallback)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Service started successfully, listening on %s", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("HTTP server failed: %v", err)
	}
	log.Println("Service stopped")
}
