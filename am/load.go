package am

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/smtaidev/outbound/errors"
	"github.com/smtaidev/outbound/logger"
)

const (
	envPrefix         = "OUTBOUND"
	systemConfigPath  = "/etc/outbound/config.toml"
	projectConfigName = "outbound.toml"
)

var (
	loadMu        sync.Mutex
	globalConfig  *Config
	viperInstance *viper.Viper
)

// ConfigSources records which file set each leaf key in the global cascade
var ConfigSources = map[string]SourceInfo{}

// Load returns the validated global configuration, building it on first use
func Load() (*Config, error) {
	loadMu.Lock()
	defer loadMu.Unlock()
	if globalConfig != nil {
		return globalConfig, nil
	}

	cfg, err := LoadWithViper(initViper())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	globalConfig = cfg
	return cfg, nil
}

// GetViper returns the viper instance behind the global cascade
func GetViper() *viper.Viper {
	loadMu.Lock()
	defer loadMu.Unlock()
	return initViper()
}

// LoadWithViper decodes v into a Config without validating it
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &cfg, nil
}

// LoadFromFile reads one file over the defaults, ignoring the cascade and
// the environment, and validates the result
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	if err := readFile(v, path); err != nil {
		return nil, err
	}
	cfg, err := LoadWithViper(v)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

// Reset drops the cached configuration so the next Load rereads every source
func Reset() {
	loadMu.Lock()
	defer loadMu.Unlock()
	globalConfig = nil
	viperInstance = nil
	ConfigSources = map[string]SourceInfo{}
}

func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	BindSensitiveEnvVars(v)
	SetDefaults(v)

	ConfigSources = mergeConfigFiles(v, configSearchPaths())
	viperInstance = v
	return v
}

func readFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	return errors.Wrapf(v.ReadInConfig(), "failed to read config file %s", path)
}

// UserConfigPath is ~/.outbound/config.toml, or "" without a home directory
func UserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".outbound", "config.toml")
}

type searchPath struct {
	path   string
	source ConfigSource
}

// configSearchPaths lists candidate files, lowest precedence first
func configSearchPaths() []searchPath {
	paths := []searchPath{{path: systemConfigPath, source: SourceSystem}}
	if p := UserConfigPath(); p != "" {
		paths = append(paths, searchPath{path: p, source: SourceUser})
	}
	if p := findProjectConfig(); p != "" {
		paths = append(paths, searchPath{path: p, source: SourceProject})
	}
	return paths
}

// findProjectConfig walks up from the working directory to the nearest
// outbound.toml
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, projectConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// mergeConfigFiles layers each existing file into v's config layer in order
// and reports which file last set each leaf key. Merging below viper's
// override layer keeps OUTBOUND_* variables above every file. A file that
// does not parse is skipped with a warning.
func mergeConfigFiles(v *viper.Viper, paths []searchPath) map[string]SourceInfo {
	sources := make(map[string]SourceInfo)
	for _, sp := range paths {
		if _, err := os.Stat(sp.path); err != nil {
			continue
		}
		file := viper.New()
		if err := readFile(file, sp.path); err != nil {
			logger.Warnw("Skipping unreadable config file", logger.FieldFile, sp.path, logger.FieldError, err)
			continue
		}
		if err := v.MergeConfigMap(file.AllSettings()); err != nil {
			logger.Warnw("Skipping config file that does not merge", logger.FieldFile, sp.path, logger.FieldError, err)
			continue
		}
		for _, key := range file.AllKeys() {
			sources[key] = SourceInfo{Source: sp.source, Path: sp.path}
		}
	}
	return sources
}
