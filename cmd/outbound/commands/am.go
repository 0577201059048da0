package commands

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/smtaidev/outbound/am"
	"github.com/smtaidev/outbound/display"
	"github.com/smtaidev/outbound/errors"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:     "am",
	Aliases: []string{"config"},
	Short:   "Manage outbound configuration",
	Long: `Display and manage outbound configuration settings.

Configuration sources (in order of precedence):
1. Command line flags
2. Environment variables (OUTBOUND_* prefix)
3. Project config (./outbound.toml, searching parent directories)
4. User config (~/.outbound/config.toml)
5. System config (/etc/outbound/config.toml)
6. Default values

Examples:
  outbound am show                         # Show current configuration
  outbound am show --format json           # Show configuration in JSON format
  outbound am get rates.voice_per_minute_usd
  outbound am set budget.daily_usd 250     # Persist a value to the user config
  outbound am init                         # Write a starter config
  outbound am validate                     # Validate current configuration`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the effective configuration from all sources. Secrets are masked.",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., database.path, schedule.timezone)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a configuration value",
	Long: `Write one value to the config file (~/.outbound/config.toml unless --config
is given). The previous file is backed up first. A running server picks the
change up without a restart.`,
	Args: cobra.ExactArgs(2),
	RunE: runAmSet,
}

var amInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file with every default",
	RunE:  runAmInit,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	Long: `Show the configuration cascade and which source set each value.

Lists every effective setting grouped by the file or environment variable
that supplied it.`,
	RunE: runAmWhere,
}

var (
	configFormat string
	amInitForce  bool
)

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	amInitCmd.Flags().BoolVar(&amInitForce, "force", false, "Overwrite an existing file (it is backed up)")
	amWhereCmd.Flags().Bool("json", false, "Output as JSON")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amSetCmd)
	AmCmd.AddCommand(amInitCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
}

// configPath is the file set/init write to
func configPath(cmd *cobra.Command) string {
	if p, _ := cmd.Root().PersistentFlags().GetString("config"); p != "" {
		return p
	}
	return am.UserConfigPath()
}

// introspect honors --config, falling back to the full cascade
func introspect(cmd *cobra.Command) ([]am.SettingInfo, error) {
	if p, _ := cmd.Root().PersistentFlags().GetString("config"); p != "" {
		return am.IntrospectFile(p)
	}
	return am.GetConfigIntrospection(), nil
}

func runAmShow(cmd *cobra.Command, args []string) error {
	settings, err := introspect(cmd)
	if err != nil {
		return err
	}
	nested := am.Nest(settings)

	format := configFormat
	if display.ShouldOutputJSON(cmd) {
		format = "json"
	}
	switch format {
	case "json":
		return display.OutputJSON(nested)

	case "yaml":
		data, err := yaml.Marshal(nested)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to YAML")
		}
		fmt.Printf("# outbound configuration\n%s", string(data))

	case "toml":
		data, err := toml.Marshal(nested)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to TOML")
		}
		fmt.Printf("# outbound configuration\n%s", string(data))

	default:
		return errors.NewInvalidInputError("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}
	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	settings, err := introspect(cmd)
	if err != nil {
		return err
	}
	for _, s := range settings {
		if s.Key == key {
			if display.ShouldOutputJSON(cmd) {
				return display.OutputJSON(s)
			}
			fmt.Println(s.Value)
			return nil
		}
	}
	return errors.WithHint(errors.NewNotFoundError("configuration key %q not found", key),
		"run 'outbound am where' to list every key")
}

func runAmSet(cmd *cobra.Command, args []string) error {
	key, raw := args[0], args[1]
	if !knownKey(key) {
		return errors.WithHint(errors.NewNotFoundError("configuration key %q not found", key),
			"run 'outbound am where' to list every key")
	}
	path := configPath(cmd)
	if path == "" {
		return errors.NewServiceUnavailableError("cannot locate a home directory for the user config; pass --config")
	}

	if err := am.UpdateSetting(path, key, parseSettingValue(raw)); err != nil {
		return err
	}
	// The new file has to pass validation as a whole
	if _, err := am.LoadFromFile(path); err != nil {
		if rerr := restoreBackup(path); rerr != nil {
			return errors.WithSecondaryError(err, rerr)
		}
		return errors.WithHint(err, "the change was not saved")
	}
	am.Reset()
	display.Success("Set %s = %s in %s", key, raw, path)
	return nil
}

func runAmInit(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)
	if path == "" {
		return errors.NewServiceUnavailableError("cannot locate a home directory for the user config; pass --config")
	}
	if _, err := os.Stat(path); err == nil && !amInitForce {
		return errors.WithHint(errors.NewConflictError("%s already exists", path),
			"use --force to replace it; the old file is backed up")
	}
	if err := am.WriteDefaultConfig(path); err != nil {
		return err
	}
	display.Success("Wrote default configuration to %s", path)
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}
	display.Success("Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	settings, err := introspect(cmd)
	if err != nil {
		return err
	}
	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(settings)
	}

	pterm.Println("Configuration cascade (later overrides earlier):")
	pterm.Println("  1. [DEFAULT]  Built-in defaults")
	pterm.Println("  2. [SYSTEM]   /etc/outbound/config.toml")
	pterm.Println("  3. [USER]     ~/.outbound/config.toml")
	pterm.Println("  4. [PROJECT]  ./outbound.toml (searches up directories)")
	pterm.Println("  5. [ENV]      OUTBOUND_* environment variables")
	pterm.Println()

	type group struct {
		source   am.ConfigSource
		path     string
		settings []am.SettingInfo
	}
	groups := make(map[string]*group)
	for _, s := range settings {
		key := string(s.Source) + "|" + s.SourcePath
		g, ok := groups[key]
		if !ok {
			g = &group{source: s.Source, path: s.SourcePath}
			groups[key] = g
		}
		g.settings = append(g.settings, s)
	}

	order := map[am.ConfigSource]int{
		am.SourceDefault:     0,
		am.SourceSystem:      1,
		am.SourceUser:        2,
		am.SourceProject:     3,
		am.SourceEnvironment: 4,
	}
	sorted := make([]*group, 0, len(groups))
	for _, g := range groups {
		sorted = append(sorted, g)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if order[sorted[i].source] != order[sorted[j].source] {
			return order[sorted[i].source] < order[sorted[j].source]
		}
		return sorted[i].path < sorted[j].path
	})

	pterm.Println("Active configuration:")
	for _, g := range sorted {
		switch g.source {
		case am.SourceDefault:
			pterm.Printfln("\n%s: %d settings", g.source, len(g.settings))
		case am.SourceEnvironment:
			pterm.Printfln("\n%s: %s", g.source, g.path)
		default:
			pterm.Printfln("\n%s: %d settings from %s", g.source, len(g.settings), g.path)
		}
		for _, s := range g.settings {
			value := fmt.Sprintf("%v", s.Value)
			if len(value) > 50 {
				value = value[:47] + "..."
			}
			pterm.Printfln("  %s = %s", s.Key, value)
		}
	}
	return nil
}

// restoreBackup puts back the file UpdateSetting rotated to .back1
func restoreBackup(path string) error {
	backup := path + ".back1"
	if _, err := os.Stat(backup); os.IsNotExist(err) {
		return os.Remove(path)
	}
	return os.Rename(backup, path)
}

func knownKey(key string) bool {
	for _, s := range am.GetConfigIntrospection() {
		if s.Key == key {
			return true
		}
	}
	return false
}

// parseSettingValue keeps TOML types: integers, floats, bools, then lists, else a string
func parseSettingValue(raw string) interface{} {
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	if strings.Contains(raw, ",") {
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return raw
}
