package am

import (
	"os"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/smtaidev/outbound/errors"
)

// ConfigSource represents where a configuration value came from
type ConfigSource string

const (
	SourceDefault     ConfigSource = "default"
	SourceSystem      ConfigSource = "system"      // /etc/outbound/config.toml
	SourceUser        ConfigSource = "user"        // ~/.outbound/config.toml
	SourceProject     ConfigSource = "project"     // outbound.toml in a parent directory
	SourceEnvironment ConfigSource = "environment" // OUTBOUND_* env vars
)

// SourceInfo tracks where a configuration value originated
type SourceInfo struct {
	Source ConfigSource
	Path   string // File path or environment variable name
}

// SettingInfo contains metadata about a configuration setting
type SettingInfo struct {
	Key        string       `json:"key"`
	Value      interface{}  `json:"value"`
	Source     ConfigSource `json:"source"`
	SourcePath string       `json:"source_path,omitempty"`
}

// sensitiveKeys are masked in introspection output
var sensitiveKeys = map[string]bool{
	"batch_api.auth_token": true,
}

// Introspect returns every effective setting of v with the source that set it
func Introspect(v *viper.Viper, sources map[string]SourceInfo) []SettingInfo {
	keys := v.AllKeys()
	sort.Strings(keys)

	settings := make([]SettingInfo, 0, len(keys))
	for _, key := range keys {
		info := SourceInfo{Source: SourceDefault, Path: "built-in default"}
		if si, ok := sources[key]; ok {
			info = si
		}

		envKey := "OUTBOUND_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if os.Getenv(envKey) != "" {
			info = SourceInfo{Source: SourceEnvironment, Path: envKey}
		}

		value := v.Get(key)
		if sensitiveKeys[key] && v.GetString(key) != "" {
			value = "********"
		}

		settings = append(settings, SettingInfo{
			Key:        key,
			Value:      value,
			Source:     info.Source,
			SourcePath: info.Path,
		})
	}
	return settings
}

// GetConfigIntrospection returns the effective global configuration with sources
func GetConfigIntrospection() []SettingInfo {
	v := GetViper()
	return Introspect(v, ConfigSources)
}

// IntrospectFile reports the settings of a single config file layered over the defaults
func IntrospectFile(configPath string) ([]SettingInfo, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	SetDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	sources := make(map[string]SourceInfo)
	file := viper.New()
	file.SetConfigFile(configPath)
	file.SetConfigType("toml")
	if err := file.ReadInConfig(); err == nil {
		for _, key := range file.AllKeys() {
			sources[key] = SourceInfo{Source: SourceUser, Path: configPath}
		}
	}
	return Introspect(v, sources), nil
}

// Nest turns dotted setting keys back into nested sections for encoding
func Nest(settings []SettingInfo) map[string]interface{} {
	out := make(map[string]interface{})
	for _, s := range settings {
		parts := strings.Split(s.Key, ".")
		section := out
		for _, part := range parts[:len(parts)-1] {
			next, ok := section[part].(map[string]interface{})
			if !ok {
				next = make(map[string]interface{})
				section[part] = next
			}
			section = next
		}
		section[parts[len(parts)-1]] = s.Value
	}
	return out
}
