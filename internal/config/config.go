package config

import (
	"fmt"
	"sync"

	"fxlink/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads a YAML config file, applies defaults and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watcher re-reads the config file when it changes on disk and hands
// the fresh SyncConfig to the registered callback. Only the sync
// section is hot-reloadable; everything else needs a restart.
type Watcher struct {
	v        *viper.Viper
	mu       sync.Mutex
	onSync   func(SyncConfig)
	started  bool
	lastGood SyncConfig
}

func NewWatcher(path string, onSync func(SyncConfig)) (*Watcher, error) {
	if onSync == nil {
		return nil, fmt.Errorf("config watcher requires a callback")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	return &Watcher{v: v, onSync: onSync}, nil
}

// Start begins watching. Safe to call once; further calls are no-ops.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true
	w.v.OnConfigChange(func(evt fsnotify.Event) {
		if err := w.v.ReadInConfig(); err != nil {
			logger.Warnf("config reload skipped, re-read failed: %v", err)
			return
		}
		cfg, err := decode(w.v)
		if err != nil {
			logger.Warnf("config reload skipped: %v", err)
			return
		}
		w.mu.Lock()
		changed := cfg.Sync != w.lastGood
		w.lastGood = cfg.Sync
		cb := w.onSync
		w.mu.Unlock()
		if changed {
			logger.Infof("sync settings reloaded from %s", evt.Name)
			cb(cfg.Sync)
		}
	})
	w.v.WatchConfig()
}
