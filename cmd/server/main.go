package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/expenza/be-expenses/internal/client"
	"github.com/expenza/be-expenses/internal/config"
	"github.com/expenza/be-expenses/internal/database"
	"github.com/expenza/be-expenses/internal/handler"
	"github.com/expenza/be-expenses/internal/logger"
	"github.com/expenza/be-expenses/internal/repository"
	"github.com/expenza/be-expenses/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Expenses Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize NATS. Publishing is best-effort; an empty URL disables it.
	var natsConn *nats.Conn
	if cfg.NATS.URL != "" {
		natsConn, err = nats.Connect(cfg.NATS.URL,
			nats.Name(cfg.Service.Name),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS connection failed, notifications disabled")
		} else {
			defer natsConn.Close()
			log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
		}
	}

	// Initialize repositories
	expenseRepo := repository.NewExpenseRepository(db)
	rulesRepo := repository.NewApprovalRulesRepository(db)
	actionsRepo := repository.NewApprovalActionsRepository(db)
	userRepo := repository.NewUserRepository(db)
	companyRepo := repository.NewCompanyRepository(db)

	// Initialize clients
	notifier := client.NewNotificationPublisher(natsConn, log.Logger)
	currencyClient := client.NewCurrencyClient(cfg.Currency, log.Logger)

	// Initialize services
	evaluator := service.NewRuleEvaluator(log)
	workflowService := service.NewWorkflowService(db, expenseRepo, rulesRepo, actionsRepo, userRepo, evaluator, notifier, log)
	expenseService := service.NewExpenseService(db, expenseRepo, rulesRepo, userRepo, companyRepo, workflowService, currencyClient, notifier, log)
	ruleService := service.NewApprovalRuleService(rulesRepo, userRepo, log)

	// Setup HTTP server
	httpHandler := handler.NewHTTPHandler(expenseService, workflowService, ruleService, log)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
