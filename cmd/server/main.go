package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/finllm/gateway/internal/api"
	"github.com/finllm/gateway/internal/audit"
	"github.com/finllm/gateway/internal/config"
	"github.com/finllm/gateway/internal/credential"
	"github.com/finllm/gateway/internal/delegation"
	"github.com/finllm/gateway/internal/filter"
	"github.com/finllm/gateway/internal/identity"
	"github.com/finllm/gateway/internal/intent"
	"github.com/finllm/gateway/internal/operator"
	"github.com/finllm/gateway/internal/sep"
	"github.com/finllm/gateway/internal/signer"
	"github.com/finllm/gateway/internal/stream"
	"github.com/redis/go-redis/v9"
)

// seedRoster is the static in-repo operator roster seeded once at startup
// (§4.10); real deployments grow this table out-of-band through the
// operator directory's own Postgres store, this gateway never writes to it
// again afterward.
var seedRoster = []struct {
	username string
	roles    []string
}{
	{"alice", []string{"teller"}},
	{"bob", []string{"advisor"}},
	{"carol", []string{"manager", "loan_officer"}},
	{"dave", []string{"customer_service"}},
	{"erin", []string{"audit_reader"}},
}

func main() {
	cfg := config.Get()

	if cfg.Session.JWTSecretKey == "" {
		log.Fatalf("finllm-gateway: JWT_SECRET_KEY is required and was not set")
	}

	signingKey, err := signer.Load(cfg.Crypto.PrivateKeyPath, cfg.Crypto.PublicKeyPath, cfg.Crypto.KeyPassphrase)
	if err != nil {
		log.Fatalf("finllm-gateway: failed to load signing keys: %v", err)
	}

	identity.Attest(cfg.Identity.SPIFFESocket, cfg.Session.ServerID, cfg.Identity.FetchTimeout)

	ledger, err := audit.Open(cfg.Audit.DatabaseURL, cfg.Audit.EncryptionKey, time.Duration(cfg.Audit.InsertTimeoutSec)*time.Second)
	if err != nil {
		log.Fatalf("finllm-gateway: failed to open audit ledger: %v", err)
	}
	if err := ledger.Init(context.Background()); err != nil {
		log.Fatalf("finllm-gateway: failed to initialize audit schema: %v", err)
	}

	auditHub := stream.NewHub()
	ledger.AddNotifier(auditHub)

	if cfg.PubSub.TopicID != "" && cfg.PubSub.ProjectID != "" {
		pubsubNotifier, err := audit.NewPubSubNotifier(cfg.PubSub.ProjectID, cfg.PubSub.TopicID)
		if err != nil {
			slog.Warn("finllm-gateway: pubsub audit fan-out disabled", "error", err)
		} else {
			ledger.AddNotifier(pubsubNotifier)
			slog.Info("finllm-gateway: audit events also fanning out to Pub/Sub", "topic", cfg.PubSub.TopicID)
		}
	}

	operators, err := operator.Open(cfg.Operator.DatabaseURL)
	if err != nil {
		log.Fatalf("finllm-gateway: failed to open operator directory: %v", err)
	}
	if err := operators.Init(context.Background()); err != nil {
		log.Fatalf("finllm-gateway: failed to initialize operator schema: %v", err)
	}
	seedOperators(operators, cfg.BcryptCost)

	issuer := credential.NewIssuer(cfg.Session.JWTSecretKey, "", cfg.Session.ServerID, time.Time{})

	filterCfg, err := filter.LoadConfig("blocked_keywords.json")
	if err != nil {
		log.Fatalf("finllm-gateway: failed to load blocked_keywords.json: %v", err)
	}
	contentFilter, err := filter.New(filterCfg, nil)
	if err != nil {
		log.Fatalf("finllm-gateway: failed to compile content filter: %v", err)
	}

	var completer intent.Completer
	if cfg.Intent.LLMEndpoint != "" {
		completer = intent.NewHTTPCompleter(cfg.Intent.LLMEndpoint, cfg.Intent.LLMAPIKey, cfg.Intent.RequestTimeout)
	} else {
		slog.Warn("finllm-gateway: LLM_ENDPOINT not set, using stub completer — /auth/intent will not produce real parses")
		completer = intent.StubCompleter{Response: `{"action":"N/A","is_safe":false,"confidence_score":0.0}`}
	}

	delegationAuthority := delegation.New(issuer, cfg.DelegationTTL())
	delegationAuthority.Ledger = ledger

	var singleUse credential.SingleUseTracker
	var decodeFailures credential.DecodeFailureCounter
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("finllm-gateway: invalid REDIS_URL: %v", err)
		}
		client := redis.NewClient(opts)
		singleUse = credential.NewRedisSingleUseTracker(client)
		decodeFailures = credential.NewRedisDecodeFailureCounter(client, time.Hour)
		slog.Info("finllm-gateway: using Redis-backed single-use tracking and decode-failure counters")
	} else {
		slog.Warn("finllm-gateway: REDIS_URL not set, falling back to in-memory single-use tracking (not safe across replicas)")
		singleUse = credential.NewMemorySingleUseTracker()
		decodeFailures = credential.NewMemoryDecodeFailureCounter()
	}

	pipeline := &sep.Pipeline{
		Issuer:        issuer,
		SingleUse:     singleUse,
		DecodeFailure: decodeFailures,
		Filter:        contentFilter,
		Signer:        signingKey,
		Ledger:        ledger,
		Metrics:       sep.NewMetrics(),
		DelegationTTL: cfg.DelegationTTL(),
	}

	server := &api.Server{
		Operators:  operators,
		Issuer:     issuer,
		BcryptCost: cfg.BcryptCost,
		Completer:  completer,
		Delegation: delegationAuthority,
		Pipeline:   pipeline,
		AuditHub:   auditHub,
		SessionTTL: cfg.SessionTTL(),
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server.Router(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	slog.Info("finllm-gateway: listening", "port", cfg.Server.Port, "server_id", cfg.Session.ServerID)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("finllm-gateway: server failed: %v", err)
	}
}

func seedOperators(dir *operator.Directory, bcryptCost int) {
	password := os.Getenv("OPERATOR_SEED_PASSWORD")
	if password == "" {
		password = "changeme-seed-password"
	}
	hash, err := credential.HashPassword(password, bcryptCost)
	if err != nil {
		log.Fatalf("finllm-gateway: failed to hash seed operator password: %v", err)
	}

	roster := make([]operator.Record, 0, len(seedRoster))
	for _, entry := range seedRoster {
		roster = append(roster, operator.Record{
			Username:     entry.username,
			PasswordHash: hash,
			Roles:        entry.roles,
		})
	}
	if err := dir.Seed(context.Background(), roster); err != nil {
		log.Fatalf("finllm-gateway: failed to seed operator roster: %v", err)
	}
}
