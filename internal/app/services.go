package app

import (
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/backoffice/internal/accounting"
	"github.com/odyssey-erp/backoffice/internal/audit"
	"github.com/odyssey-erp/backoffice/internal/ctro"
	"github.com/odyssey-erp/backoffice/internal/documents"
	"github.com/odyssey-erp/backoffice/internal/numbering"
	"github.com/odyssey-erp/backoffice/internal/observability"
	"github.com/odyssey-erp/backoffice/internal/periods"
	"github.com/odyssey-erp/backoffice/internal/rbac"
	"github.com/odyssey-erp/backoffice/internal/reconcile"
	"github.com/odyssey-erp/backoffice/internal/store/memory"
)

// NumberSource issues document and journal numbers.
type NumberSource interface {
	accounting.NumberSource
	documents.NumberSource
}

// Backend bundles the repository ports of one storage profile.
type Backend struct {
	Periods   periods.RepositoryPort
	Ledger    accounting.RepositoryPort
	Documents documents.RepositoryPort
	RateCards ctro.RateCardRepository
	Audit     audit.Sink
	Numbers   NumberSource
}

// MemoryBackend serves every port from one in-process store.
func MemoryBackend(store *memory.Store) Backend {
	return Backend{
		Periods:   store.Periods(),
		Ledger:    store.Ledger(),
		Documents: store.Documents(),
		RateCards: store.RateCards(),
		Audit:     audit.NewMemorySink(),
		Numbers:   numbering.NewSequencer(numbering.NewMemoryStore()),
	}
}

// PostgresBackend serves every port from pool.
func PostgresBackend(cfg *Config, pool *pgxpool.Pool, logger *slog.Logger) Backend {
	counters := numbering.NewRepository(pool)
	var numbers NumberSource = numbering.NewSequencer(counters)
	if cfg != nil && cfg.NumberStrategy == NumberRetry {
		numbers = numbering.NewRetryingSequencer(counters, cfg.NumberRetryLimit, logger)
	}
	return Backend{
		Periods:   periods.NewRepository(pool),
		Ledger:    accounting.NewRepository(pool),
		Documents: documents.NewRepository(pool),
		RateCards: ctro.NewRepository(pool),
		Audit:     audit.NewRepository(pool),
		Numbers:   numbers,
	}
}

// Services is the wired domain layer.
type Services struct {
	Recorder  *audit.Recorder
	Periods   *periods.Service
	Ledger    *accounting.Service
	Engine    *ctro.Engine
	Documents *documents.Service
	Reports   *reconcile.Service
	Cache     *reconcile.ReportCache
}

// NewServices wires the domain services over backend. A nil redis client
// disables the report cache; a nil metrics registry disables observers.
func NewServices(cfg *Config, backend Backend, client *redis.Client, metrics *observability.Metrics, logger *slog.Logger) *Services {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = &Config{}
	}
	recorder := audit.NewRecorder(backend.Audit, logger)

	periodSvc := periods.NewService(backend.Periods, recorder, logger)
	periodSvc.WithPolicy(periods.Policy{AllowReopen: cfg.AllowPeriodReopen})

	ledger := accounting.NewService(backend.Ledger, recorder, backend.Numbers, logger)
	ledger.WithTolerance(cfg.BalanceTolerance)

	engine := ctro.NewEngine(backend.RateCards, recorder, logger)
	engine.WithDefaultBagsPerTonne(cfg.DefaultBagsPerTonne)
	if cfg.RejectDuplicateRate {
		engine.WithDuplicatePolicy(ctro.DuplicateReject)
	}

	docs := documents.NewService(backend.Documents, ledger, backend.Numbers, documents.DefaultRegistry(engine), recorder, logger)

	var cache *reconcile.ReportCache
	if client != nil {
		ttl := cfg.ReportCacheTTL
		if ttl <= 0 {
			ttl = 10 * time.Minute
		}
		cache = reconcile.NewReportCache(client, ttl, logger)
		docs.WithInvalidator(cache)
		ledger.WithInvalidator(cache)
	}
	reports := reconcile.NewService(docs, ledger, cache, logger)

	if metrics != nil {
		ledger.WithObserver(metrics)
		reports.WithObserver(metrics)
	}

	return &Services{
		Recorder:  recorder,
		Periods:   periodSvc,
		Ledger:    ledger,
		Engine:    engine,
		Documents: docs,
		Reports:   reports,
		Cache:     cache,
	}
}

// RouterParams returns router dependencies for the wired services.
func (s *Services) RouterParams(cfg *Config, logger *slog.Logger, metrics *observability.Metrics) RouterParams {
	return RouterParams{
		Logger:             logger,
		Config:             cfg,
		RBACMiddleware:     rbac.Middleware{Logger: logger},
		PermissionsHandler: rbac.NewHandler(),
		PeriodsHandler:     periods.NewHandler(logger, s.Periods),
		LedgerHandler:      accounting.NewHandler(logger, s.Ledger),
		DocumentsHandler:   documents.NewHandler(logger, s.Documents),
		CTROHandler:        ctro.NewHandler(logger, s.Engine),
		ReportsHandler:     reconcile.NewHandler(logger, s.Reports),
		AuditHandler:       audit.NewHandler(logger, s.Recorder),
		Metrics:            metrics,
	}
}
