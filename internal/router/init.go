package router

import (
	"github.com/sakuapp/saku/internal/application"
	"github.com/sakuapp/saku/internal/budget"
	"github.com/sakuapp/saku/internal/container"
	pginfra "github.com/sakuapp/saku/internal/infrastructure/postgres"
	handlers "github.com/sakuapp/saku/internal/interface/http"
	"github.com/sakuapp/saku/internal/router/modules"
)

// InitModules wires the services from the container singletons and registers
// every feature module with the router registry. Called once at startup. The
// returned synchronizer is drained on shutdown so queued commits land.
func InitModules(r *Registry) *application.Synchronizer {
	cfg := container.GetConfig()

	ledgerRepo := pginfra.NewLedgerRepository(container.GetPGPool())
	accountRepo := pginfra.NewAccountRepository(container.GetPGPool())

	syncer := application.NewSynchronizer(
		ledgerRepo,
		&application.SessionIdentity{Redis: container.GetRedis()},
		container.GetLogger(),
		container.GetEventPub(),
		cfg.SyncRetryInterval,
		cfg.SyncRetryWarnAfter,
		cfg.SyncRetryMax,
	)

	// A nil publisher must stay a nil interface so alerts are skipped cleanly.
	var alerts application.AlertQueue
	if p := container.GetAlertPub(); p != nil {
		alerts = p
	}

	ledgerSvc := application.NewLedgerService(
		ledgerRepo,
		syncer,
		container.GetRedis(),
		container.GetLogger(),
		container.GetES(),
		cfg.ESTxIndex,
		alerts,
		accountRepo,
		budget.Thresholds{Medium: cfg.HeatmapMediumThreshold, High: cfg.HeatmapHighThreshold},
	)

	accountSvc := application.NewAccountService(
		accountRepo,
		ledgerSvc,
		container.GetJWT(),
		container.GetGCS(),
		cfg.GCSBucket,
		container.GetRedis(),
		container.GetLogger(),
	)

	accountHandler := handlers.NewAccountHandler(accountSvc, container.GetJWT(), container.GetLogger(), cfg.CookieDomain, cfg.CookieSecure)
	ledgerHandler := handlers.NewLedgerHandler(ledgerSvc, container.GetLogger())

	r.Add(modules.NewAccountModule(accountHandler, container.GetJWT()))
	r.Add(modules.NewLedgerModule(ledgerHandler, container.GetJWT()))
	if cfg.DebugMetricsEnabled {
		r.Add(modules.NewDebugModule())
	}
	return syncer
}
