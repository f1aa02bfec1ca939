package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SaiyanSerguchev/evimed-sub000/internal/database"
	"github.com/SaiyanSerguchev/evimed-sub000/internal/http/handlers"
	httpmw "github.com/SaiyanSerguchev/evimed-sub000/internal/http/middleware"
	"github.com/SaiyanSerguchev/evimed-sub000/internal/platform/cache"
	"github.com/SaiyanSerguchev/evimed-sub000/internal/platform/mailer"
	"github.com/SaiyanSerguchev/evimed-sub000/internal/renovatio"
	"github.com/SaiyanSerguchev/evimed-sub000/internal/repo/postgres"
	"github.com/SaiyanSerguchev/evimed-sub000/internal/service"
	"github.com/SaiyanSerguchev/evimed-sub000/pkg/config"
	"github.com/SaiyanSerguchev/evimed-sub000/pkg/events"
	"github.com/SaiyanSerguchev/evimed-sub000/pkg/logger"
	mw "github.com/SaiyanSerguchev/evimed-sub000/pkg/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	verifyRepo := postgres.NewVerificationRepo(pool)
	requestRepo := postgres.NewRequestRepo(pool)
	apptRepo := postgres.NewAppointmentRepo(pool)
	userRepo := postgres.NewUserRepo(pool)

	mailSvc := buildMailer(cfg)
	gateway := renovatio.NewClient(cfg.Renovatio.BaseURL, cfg.Renovatio.APIKey, cfg.Renovatio.Timeout)

	var bus events.Publisher
	if nats, err := events.NewNATSPublisher(cfg.NATS.URL); err != nil {
		logger.Warn("NATS unavailable, events disabled", "error", err)
	} else {
		bus = nats
		defer nats.Close()
	}

	verificationSvc := service.NewVerificationService(
		verifyRepo, requestRepo, apptRepo, mailSvc, gateway, bus, cfg.Verification,
	)

	sweeper := service.NewSweeper(verificationSvc, cfg.Verification.SweepInterval)
	go sweeper.Run(ctx)

	limiter := httpmw.NewRateLimiter(cfg.Verification.MinuteLimit, cfg.Verification.HourLimit)
	requireAdmin := httpmw.RequireAdmin(cfg.Auth.JWTSecret)

	verificationHandler := handlers.NewVerificationHandler(verificationSvc, limiter, requireAdmin)
	appointmentHandler := handlers.NewAppointmentHandler(apptRepo, gateway, requireAdmin)
	authHandler := handlers.NewAuthHandler(userRepo, cfg.Auth)

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.Logging)
	r.Use(mw.Recover)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000", "*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(mw.Health)

	if store, err := cache.NewRedisStore(cfg.Redis); err != nil {
		logger.Warn("Redis unavailable, idempotency cache disabled", "error", err)
	} else {
		defer store.Close()
		r.Use(mw.IdempotencyMiddleware(store))
	}

	r.Mount("/verification", verificationHandler.Routes())
	r.Mount("/appointments", appointmentHandler.Routes())
	r.Mount("/auth", authHandler.Routes())

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	}()

	logger.Info("Starting server", "port", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}

func buildMailer(cfg *config.Config) mailer.Service {
	switch {
	case cfg.Email.DevMode:
		return mailer.NewDevMailer()
	case cfg.Email.MailerSendKey != "":
		return mailer.NewMailer(cfg.Email.MailerSendKey, cfg.Email.FromName, cfg.Email.SMTPFrom)
	default:
		return mailer.NewSMTPMailer(
			cfg.Email.SMTPHost, cfg.Email.SMTPPort, cfg.Email.SMTPFrom,
			cfg.Email.SMTPUser, cfg.Email.SMTPPass, cfg.Email.SMTPUseTLS,
		)
	}
}
