package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/smtaidev/outbound/display"
	"github.com/smtaidev/outbound/logger"
	"github.com/smtaidev/outbound/pulse/watcher"
)

// WatchCmd blocks until the calling window ends
var WatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Wait for the calling window to end",
	Long: `Arm the window watcher for the window end and block until it passes.
A window that has already ended fires on the first check.

Examples:
  outbound watch
  outbound watch --end 17:30 --interval 1s`,
	RunE: runWatch,
}

var (
	watchFlags    scheduleFlags
	watchInterval time.Duration
)

func init() {
	watchFlags.register(WatchCmd)
	WatchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "Check interval (default from watcher.interval_seconds)")
	WatchCmd.Flags().Bool("json", false, "Output the end event as JSON")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	session, err := newSession(cfg, &watchFlags)
	if err != nil {
		return err
	}
	if err := session.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wcfg := watcher.ConfigFromAm(cfg.Watcher)
	if watchInterval > 0 {
		wcfg.Interval = watchInterval
	}
	w := watcher.NewWithContext(ctx, wcfg, logger.ComponentLogger("watcher"))
	sub := w.Subscribe()
	defer sub.Close()
	w.Start()
	defer w.Stop()

	end := session.Config().CallEndTime
	if _, err := w.Arm(ctx, end); err != nil {
		return err
	}

	norm := session.Normalizer()
	jsonOut := display.ShouldOutputJSON(cmd)
	if !jsonOut {
		display.Info("Watching for window end at %s (checking every %s)", norm.FormatDateTime(end), wcfg.Interval)
	}

	ev, err := sub.Next(ctx)
	if err != nil {
		if ctx.Err() != nil {
			if !jsonOut {
				pterm.Println()
				display.Warning("Stopped before the window ended")
			}
			return nil
		}
		return err
	}

	if jsonOut {
		return display.OutputJSON(ev)
	}
	display.Success("Calling window ended at %s (fired %s)",
		norm.FormatDateTime(ev.WindowEnd), ev.FiredAt.In(norm.Location()).Format(time.Kitchen))
	return nil
}

// waitForShutdown blocks until ctx ends, reporting the signal
func waitForShutdown(ctx context.Context) {
	<-ctx.Done()
	pterm.Println()
	display.Info("Shutting down gracefully...")
}
