// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

// Command server runs the Kaizen Studio control plane: identity, policy,
// budget, approval, invocation, webhook and audit APIs behind one gateway.
package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"kaizenstudio/platform/approval"
	"kaizenstudio/platform/audit"
	"kaizenstudio/platform/budget"
	"kaizenstudio/platform/gateway"
	"kaizenstudio/platform/identity"
	"kaizenstudio/platform/invocation"
	"kaizenstudio/platform/policy"
	"kaizenstudio/platform/rbac"
	"kaizenstudio/platform/shared/keystore"
	"kaizenstudio/platform/shared/logger"
	"kaizenstudio/platform/webhook"
)

func main() {
	cfg, err := gateway.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	appLog := logger.New("server")

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database open: %v", err)
	}
	db.SetMaxOpenConns(30)
	db.SetMaxIdleConns(10)
	defer func() { _ = db.Close() }()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		log.Fatalf("database ping: %v", err)
	}
	cancel()

	if err := createSchemas(db); err != nil {
		log.Fatalf("schema: %v", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis url: %v", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()

	keys, err := loadKeystore(cfg)
	if err != nil {
		log.Fatalf("keystore: %v", err)
	}

	checker := rbac.NewChecker()
	seedCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := rbac.NewStore(db).Seed(seedCtx); err != nil {
		cancel()
		log.Fatalf("rbac seed: %v", err)
	}
	cancel()

	identitySvc := identity.NewService(identity.NewPostgresRepository(db), identity.NewTokenIssuer(keys))

	policyEngine := policy.NewEngine(policy.NewPostgresRepository(db), logger.New("policy"))
	policySvc := policy.NewService(policy.NewPostgresRepository(db), policyEngine)

	budgetSvc := budget.NewService(budget.NewPostgresRepository(db), logger.New("budget"))

	auditStore := audit.NewStore(db)
	auditWriter := audit.NewWriter(auditStore, logger.New("audit"))

	approvalSvc := approval.NewService(approval.NewPostgresRepository(db), checker, nil, logger.New("approval"))

	webhookRepo := webhook.NewPostgresRepository(db)
	invocationRepo := invocation.NewPostgresRepository(db)
	webhookDispatcher := webhook.NewDispatcher(webhookRepo, invocationRepo, keys, logger.New("webhook"))
	webhookSvc := webhook.NewService(webhookRepo, keys, logger.New("webhook"))

	invocationSvc := invocation.NewService(
		invocationRepo,
		invocation.NewLimiter(rdb),
		budgetSvc,
		approvalSvc,
		invocation.NewDispatcher(keys),
		keys,
		webhookDispatcher,
		logger.New("invocation"),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go approvalSvc.ExpireLoop(rootCtx, time.Minute)
	go collectPlatformStats(rootCtx, identitySvc, appLog)

	handler := gateway.NewRouter(gateway.Deps{
		Config:      cfg,
		Log:         appLog,
		DB:          db,
		Redis:       rdb,
		Identity:    identitySvc,
		Checker:     checker,
		Policies:    policySvc,
		Budgets:     budgetSvc,
		Approvals:   approvalSvc,
		Invocations: invocationSvc,
		Webhooks:    webhookSvc,
		AuditWriter: auditWriter,
		AuditStore:  auditStore,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("kaizen-studio listening on :%s (%s)", cfg.Port, cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	<-rootCtx.Done()
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}

	// Drain the audit queue before exit so no recorded entry is lost.
	auditWriter.Close()
}

// collectPlatformStats refreshes the exported platform gauges every
// half minute until shutdown.
func collectPlatformStats(ctx context.Context, svc *identity.Service, log *logger.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			users, invitations, err := svc.PlatformStats(ctx)
			if err != nil {
				log.Warn("", "", "Platform stats collection failed",
					map[string]interface{}{"error": err.Error()})
				continue
			}
			gateway.SetPlatformStats(users, invitations)
		}
	}
}

func createSchemas(db *sql.DB) error {
	for _, create := range []func(*sql.DB) error{
		identity.CreateSchema,
		rbac.CreateSchema,
		policy.CreateSchema,
		budget.CreateSchema,
		approval.CreateSchema,
		invocation.CreateSchema,
		webhook.CreateSchema,
		audit.CreateSchema,
	} {
		if err := create(db); err != nil {
			return err
		}
	}
	return nil
}

func loadKeystore(cfg *gateway.Config) (*keystore.Keystore, error) {
	var privPEM, pubPEM []byte
	var err error
	if cfg.JWTPrivateKeyPath != "" {
		if privPEM, err = os.ReadFile(cfg.JWTPrivateKeyPath); err != nil {
			return nil, err
		}
	}
	if cfg.JWTPublicKeyPath != "" {
		if pubPEM, err = os.ReadFile(cfg.JWTPublicKeyPath); err != nil {
			return nil, err
		}
	}
	return keystore.New(privPEM, pubPEM, cfg.EncryptionKey, cfg.CredentialEncryptionKey)
}
