package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/smtaidev/outbound/am"
	"github.com/smtaidev/outbound/db"
	"github.com/smtaidev/outbound/display"
	"github.com/smtaidev/outbound/errors"
	"github.com/smtaidev/outbound/logger"
	"github.com/smtaidev/outbound/pulse/budget"
	"github.com/smtaidev/outbound/pulse/registry"
	"github.com/smtaidev/outbound/pulse/rollover"
	"github.com/smtaidev/outbound/pulse/submission"
	"github.com/smtaidev/outbound/pulse/watcher"
	"github.com/smtaidev/outbound/server"
)

// ServeCmd runs the scheduler API, WebSocket events and background jobs
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Run the scheduler API and window watcher",
	Long: `Start the HTTP API and WebSocket event stream for the scheduling dashboard.

Runs alongside the server:
  - the window watcher, which announces window_ended when the armed window passes
  - the daily rollover, which moves the window to the new day (schedule.rollover_cron)
  - a config file watcher, which applies rate and budget changes without a restart`,
	RunE: runServe,
}

var (
	servePort   int
	serveDBPath string
)

func init() {
	ServeCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default server.port)")
	ServeCmd.Flags().StringVar(&serveDBPath, "db-path", "", "Ledger database path (overrides database.path)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if serveDBPath != "" {
		cfg.Database.Path = serveDBPath
	}
	port := cfg.GetServerPort()
	if servePort > 0 {
		port = servePort
	}
	log := logger.ComponentLogger("serve")

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	session, err := newSession(cfg, nil)
	if err != nil {
		return err
	}
	client := newClient(cfg)
	est := budget.NewEstimator(budget.RatesFromConfig(cfg.Rates))
	tracker := budget.NewTracker(database, budget.LimitsFromConfig(cfg.Budget))
	limiter := budget.LimiterFromConfig(cfg.Budget)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := watcher.NewWithContext(ctx, watcher.ConfigFromAm(cfg.Watcher), logger.ComponentLogger("watcher"))
	w.Start()
	defer w.Stop()

	var roll *rollover.Rollover
	if cfg.Schedule.RolloverCron != "" {
		roll, err = rollover.New(cfg.Schedule.RolloverCron, session.Normalizer().Location(), session, w, logger.ComponentLogger("rollover"))
		if err != nil {
			return err
		}
		roll.Start()
		defer roll.Stop()
	} else {
		log.Infow("Daily rollover disabled (schedule.rollover_cron is empty)")
	}

	subs := submission.NewService(submission.Options{
		Session:     session,
		Estimator:   est,
		Client:      client,
		Store:       submission.NewStore(database),
		Tracker:     tracker,
		Limiter:     limiter,
		Watcher:     w,
		DedupWindow: time.Duration(cfg.Budget.DedupWindowSeconds) * time.Second,
		Logger:      logger.ComponentLogger("submission"),
	})
	regOpts := registry.OptionsFromConfig(cfg.Registry)
	regOpts.Logger = logger.ComponentLogger("registry")

	srv := server.New(server.Deps{
		Session:     session,
		Estimator:   est,
		Counter:     client,
		Submissions: subs,
		Registry:    registry.New(client, est, regOpts),
		Tracker:     tracker,
		Limiter:     limiter,
		Watcher:     w,
		Rollover:    roll,
	}, server.Config{
		Addr:           server.Addr(port),
		AllowedOrigins: cfg.GetServerAllowedOrigins(),
	}, logger.ComponentLogger("server"))

	if cw := startConfigWatcher(cmd, log, est, tracker, limiter); cw != nil {
		defer cw.Stop()
	}

	if err := srv.Start(); err != nil {
		return err
	}
	schema, err := db.SchemaVersion(ctx, database)
	if err != nil {
		log.Warnw("Could not read ledger schema version", logger.FieldError, err)
	}
	printStartupBanner(verbosity(cmd), cfg, port, schema)

	waitForShutdown(ctx)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown error")
	}
	display.Success("Server stopped cleanly")
	return nil
}

// startConfigWatcher applies rate, budget and pacing edits from the config
// file while the server runs. It returns nil when there is no file to watch.
func startConfigWatcher(cmd *cobra.Command, log *zap.SugaredLogger, est *budget.Estimator, tracker *budget.Tracker, limiter *budget.Limiter) *am.ConfigWatcher {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = am.UserConfigPath()
	}
	if _, err := os.Stat(path); err != nil {
		log.Debugw("No config file to watch", logger.FieldFile, path)
		return nil
	}

	cw, err := am.NewConfigWatcher(path)
	if err != nil {
		log.Warnw("Config hot reload disabled", logger.FieldFile, path, logger.FieldError, err)
		return nil
	}
	cw.OnReload(func(cfg *am.Config) error {
		est.SetRates(budget.RatesFromConfig(cfg.Rates))
		limiter.SetMax(cfg.Budget.MaxSubmissionsPerHour)
		if err := tracker.UpdateLimits(budget.LimitsFromConfig(cfg.Budget)); err != nil {
			return errors.Wrap(err, "budget limits")
		}
		log.Infow("Applied config changes",
			"combined_rate", budget.RatesFromConfig(cfg.Rates).PerMinute(),
			"daily_usd", cfg.Budget.DailyUSD)
		return nil
	})
	am.SetGlobalWatcher(cw)
	cw.Start()
	return cw
}
