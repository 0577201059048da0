package am

import (
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/smtaidev/outbound/errors"
	"github.com/smtaidev/outbound/logger"
)

// ReloadCallback receives the config loaded after an edit
type ReloadCallback func(*Config) error

// ConfigWatcher reloads one config file when it changes on disk and hands
// the result to every registered callback. Bursts of events within the
// debounce period produce a single reload.
type ConfigWatcher struct {
	path     string
	fs       *fsnotify.Watcher
	load     func() (*Config, error)
	log      *zap.SugaredLogger
	debounce time.Duration

	// set by UpdateSetting so the server does not reload its own edit
	ownWrite atomic.Bool

	mu        sync.Mutex
	callbacks []ReloadCallback

	done     chan struct{}
	stopOnce sync.Once
}

var (
	globalWatcher   *ConfigWatcher
	globalWatcherMu sync.Mutex
)

// NewConfigWatcher watches path and reloads the full cascade on change
func NewConfigWatcher(path string) (*ConfigWatcher, error) {
	return NewConfigWatcherWithLoader(path, func() (*Config, error) {
		Reset()
		return Load()
	})
}

// NewConfigWatcherWithLoader watches path and calls load on change
func NewConfigWatcherWithLoader(path string, load func() (*Config, error)) (*ConfigWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}
	// editors save by rename, which would drop a watch on the file itself
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, errors.Wrapf(err, "failed to watch config directory of %s", path)
	}
	return &ConfigWatcher{
		path:     filepath.Clean(path),
		fs:       fw,
		load:     load,
		log:      logger.ComponentLogger("am.watcher"),
		debounce: 500 * time.Millisecond,
		done:     make(chan struct{}),
	}, nil
}

// OnReload registers fn. Callbacks run in registration order.
func (cw *ConfigWatcher) OnReload(fn ReloadCallback) {
	cw.mu.Lock()
	cw.callbacks = append(cw.callbacks, fn)
	cw.mu.Unlock()
}

// MarkOwnWrite makes the watcher skip the next change event
func (cw *ConfigWatcher) MarkOwnWrite() {
	cw.ownWrite.Store(true)
}

func (cw *ConfigWatcher) checkOwnWrite() bool {
	return cw.ownWrite.CompareAndSwap(true, false)
}

// Start runs the watch loop until Stop
func (cw *ConfigWatcher) Start() {
	go cw.run()
}

func (cw *ConfigWatcher) run() {
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-cw.done:
			return

		case ev, ok := <-cw.fs.Events:
			if !ok {
				return
			}
			if !cw.relevant(ev) {
				continue
			}
			if cw.checkOwnWrite() {
				cw.log.Debugw("Ignoring own config write", logger.FieldFile, ev.Name)
				continue
			}
			cw.log.Infow("Config change detected", logger.FieldFile, ev.Name, logger.FieldOperation, ev.Op.String())
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(cw.debounce)
			fire = timer.C

		case <-fire:
			fire = nil
			if err := cw.reload(); err != nil {
				cw.log.Errorw("Config reload failed", logger.FieldFile, cw.path, logger.FieldError, err)
			}

		case err, ok := <-cw.fs.Errors:
			if !ok {
				return
			}
			cw.log.Warnw("Config watcher error", logger.FieldError, err)
		}
	}
}

func (cw *ConfigWatcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != cw.path || isBackupFile(ev.Name) {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)
}

// reload fails only when the file does not load; callback errors are logged
// and the remaining callbacks still run
func (cw *ConfigWatcher) reload() error {
	cfg, err := cw.load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	cw.mu.Lock()
	callbacks := append([]ReloadCallback(nil), cw.callbacks...)
	cw.mu.Unlock()

	failed := 0
	for _, fn := range callbacks {
		if err := fn(cfg); err != nil {
			failed++
			cw.log.Warnw("Config reload callback error", logger.FieldError, err)
		}
	}
	cw.log.Infow("Config reloaded", logger.FieldFile, cw.path, "callbacks", len(callbacks), "failed", failed)
	return nil
}

// Stop ends the watch loop and releases the fsnotify handle
func (cw *ConfigWatcher) Stop() error {
	var err error
	cw.stopOnce.Do(func() {
		close(cw.done)
		err = cw.fs.Close()
	})
	return err
}

var backupPattern = regexp.MustCompile(`\.back[123]$`)

// isBackupFile matches the .back1 to .back3 copies UpdateSetting rotates
func isBackupFile(path string) bool {
	return backupPattern.MatchString(filepath.Base(path))
}

// SetGlobalWatcher registers the watcher UpdateSetting should notify
func SetGlobalWatcher(w *ConfigWatcher) {
	globalWatcherMu.Lock()
	globalWatcher = w
	globalWatcherMu.Unlock()
}

// GetGlobalWatcher returns the registered watcher, or nil
func GetGlobalWatcher() *ConfigWatcher {
	globalWatcherMu.Lock()
	defer globalWatcherMu.Unlock()
	return globalWatcher
}
