package commands

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"

	"github.com/smtaidev/outbound/am"
	"github.com/smtaidev/outbound/logger"
	"github.com/smtaidev/outbound/timenorm"
	"github.com/smtaidev/outbound/version"
)

// printStartupBanner prints the user-facing startup summary for serve
func printStartupBanner(verbosity int, cfg *am.Config, port int, schema string) {
	info := version.Get()

	pterm.DefaultHeader.
		WithFullWidth().
		WithBackgroundStyle(pterm.NewStyle(pterm.BgCyan)).
		WithTextStyle(pterm.NewStyle(pterm.FgBlack, pterm.Bold)).
		Println("outbound scheduler")

	zone := cfg.Schedule.Timezone
	if zone == "" {
		zone = timenorm.DefaultZone
	}
	lines := []string{fmt.Sprintf("Version:   %s (commit %s)", info.Version, info.Short())}
	if logger.DetailConfig.Shows(verbosity) {
		lines = append(lines,
			fmt.Sprintf("Built:     %s", info.BuildTime),
			fmt.Sprintf("Database:  %s (schema %s)", cfg.GetDatabasePath(), schema))
	}
	lines = append(lines,
		fmt.Sprintf("Verbosity: %s", logger.LevelName(verbosity)),
		fmt.Sprintf("Timezone:  %s", zone),
		fmt.Sprintf("API:       http://localhost:%d/api", port),
		fmt.Sprintf("Events:    ws://localhost:%d/ws", port))
	if cfg.Schedule.RolloverCron != "" {
		lines = append(lines, fmt.Sprintf("Rollover:  %s", cfg.Schedule.RolloverCron))
	}

	box := pterm.DefaultBox.WithTitle(pterm.Green("Info")).WithTitleTopLeft()
	box.Println(strings.Join(lines, "\n"))
	pterm.Println()
	pterm.FgBlue.Println("Press Ctrl+C to stop")
	pterm.Println()
}
