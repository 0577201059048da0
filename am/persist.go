package am

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/smtaidev/outbound/errors"
	"github.com/smtaidev/outbound/logger"
)

// backupGenerations is how many .backN copies a config file keeps
const backupGenerations = 3

// config files hold the batch API token
const configFileMode = 0o600

func backupPath(path string, n int) string {
	return fmt.Sprintf("%s.back%d", path, n)
}

// rotateBackups shifts .back1 and .back2 up one generation, drops the
// oldest, and copies the current file to .back1
func rotateBackups(path string) error {
	current, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}

	oldest := backupPath(path, backupGenerations)
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		logger.Warnw("Failed to delete old config backup", logger.FieldFile, oldest, logger.FieldError, err)
	}
	for n := backupGenerations - 1; n >= 1; n-- {
		from := backupPath(path, n)
		if _, err := os.Stat(from); err != nil {
			continue
		}
		if err := os.Rename(from, backupPath(path, n+1)); err != nil {
			return errors.Wrapf(err, "failed to rotate %s", filepath.Base(from))
		}
	}
	return errors.Wrap(os.WriteFile(backupPath(path, 1), current, configFileMode), "failed to write .back1")
}

// DefaultSettings returns the built-in defaults as nested sections
func DefaultSettings() map[string]interface{} {
	v := viper.New()
	SetDefaults(v)
	return v.AllSettings()
}

// WriteDefaultConfig writes every default to path, backing up any file
// already there
func WriteDefaultConfig(path string) error {
	return writeConfig(path, DefaultSettings())
}

// UpdateSetting sets one dotted key (e.g. "rates.voice_per_minute_usd") in
// the file at path, creating it if needed. Other keys are left as written.
func UpdateSetting(path, key string, value interface{}) error {
	doc := make(map[string]interface{})
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &doc); err != nil {
			return errors.Wrapf(err, "failed to parse %s", path)
		}
	case !os.IsNotExist(err):
		return errors.Wrapf(err, "failed to read %s", path)
	}

	section := doc
	parts := strings.Split(key, ".")
	for _, name := range parts[:len(parts)-1] {
		next, ok := section[name].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			section[name] = next
		}
		section = next
	}
	section[parts[len(parts)-1]] = value

	return writeConfig(path, doc)
}

// writeConfig replaces path through a temp file and rename so a reader never
// sees a half-written file
func writeConfig(path string, doc map[string]interface{}) error {
	data, err := toml.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}
	if err := rotateBackups(path); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp config")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "failed to write %s", tmp.Name())
	}
	if err := tmp.Chmod(configFileMode); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "failed to chmod %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", tmp.Name())
	}

	if w := GetGlobalWatcher(); w != nil {
		w.MarkOwnWrite()
	}
	return errors.Wrapf(os.Rename(tmp.Name(), path), "failed to replace %s", path)
}
