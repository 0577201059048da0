package commands

import (
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/smtaidev/outbound/am"
	"github.com/smtaidev/outbound/batchapi"
	"github.com/smtaidev/outbound/db"
	"github.com/smtaidev/outbound/errors"
	"github.com/smtaidev/outbound/logger"
	"github.com/smtaidev/outbound/pulse/schedule"
	"github.com/smtaidev/outbound/timenorm"
)

// loadConfig loads the cascade, or a single file when --config is given
func loadConfig(cmd *cobra.Command) (*am.Config, error) {
	if path, _ := cmd.Root().PersistentFlags().GetString("config"); path != "" {
		return am.LoadFromFile(path)
	}
	return am.Load()
}

// openDatabase opens and migrates the submission ledger
func openDatabase(cfg *am.Config) (*sql.DB, error) {
	path := cfg.GetDatabasePath()
	database, err := db.OpenWithMigrations(path, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", path)
	}
	return database, nil
}

// newClient builds the remote batch API client from config
func newClient(cfg *am.Config) *batchapi.Client {
	c := batchapi.ConfigFromAm(cfg.BatchAPI)
	c.Logger = logger.ComponentLogger("batchapi")
	return batchapi.NewClient(c)
}

// scheduleFlags are the window overrides shared by capacity, submit and watch
type scheduleFlags struct {
	start, end string
	duration   string
	gap        string
	batch      string
}

func (f *scheduleFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.start, "start", "", "Window start, HH:MM in the reference zone (default from config)")
	cmd.Flags().StringVar(&f.end, "end", "", "Window end, HH:MM in the reference zone (default from config)")
	cmd.Flags().StringVar(&f.duration, "duration", "", "Seconds per call")
	cmd.Flags().StringVar(&f.gap, "gap", "", "Seconds between calls")
	cmd.Flags().StringVar(&f.batch, "batch", "", "Numbers dialed per batch")
}

// newSession builds a session from config defaults and applies flag overrides
func newSession(cfg *am.Config, f *scheduleFlags) (*schedule.Session, error) {
	norm, err := timenorm.Load(cfg.Schedule.Timezone)
	if err != nil {
		return nil, err
	}
	session, err := schedule.NewSession(norm, schedule.BoundsFromConfig(cfg.Schedule), schedule.DefaultsFromConfig(cfg.Schedule))
	if err != nil {
		return nil, errors.WithHint(err, "check the schedule.default_* settings with 'outbound am show'")
	}
	if f == nil {
		return session, nil
	}

	var u schedule.Update
	if f.start != "" {
		u.CallStart = &f.start
	}
	if f.end != "" {
		u.CallEnd = &f.end
	}
	if f.duration != "" {
		u.CallDuration = f.duration
	}
	if f.gap != "" {
		u.CallGap = f.gap
	}
	if f.batch != "" {
		u.BatchNumber = f.batch
	}
	if err := session.Apply(u); err != nil {
		return nil, err
	}
	return session, nil
}

// verbosity returns the -v count
func verbosity(cmd *cobra.Command) int {
	v, _ := cmd.Flags().GetCount("verbose")
	return v
}
