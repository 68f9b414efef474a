package config

import (
	"time"
)

// Config is the root configuration for the trading core.
type Config struct {
	App       AppConfig       `toml:"app"`
	Gateway   GatewayConfig   `toml:"gateway"`
	Reconnect ReconnectConfig `toml:"reconnect"`
	Trading   TradingConfig   `toml:"trading"`
	Sync      SyncConfig      `toml:"sync"`
	Journal   JournalConfig   `toml:"journal"`
	Accounts  []AccountConfig `toml:"accounts"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr"`
}

// GatewayConfig describes how to reach the broker execution gateway.
type GatewayConfig struct {
	APIURL             string `toml:"api_url"`
	StreamURL          string `toml:"stream_url"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

// ReconnectConfig bounds the reconnection policy.
type ReconnectConfig struct {
	ConnectTimeoutSeconds int `toml:"connect_timeout_seconds"`
	BaseDelayMillis       int `toml:"base_delay_millis"`
	MaxDelaySeconds       int `toml:"max_delay_seconds"`
	MaxAttempts           int `toml:"max_attempts"`
}

func (r ReconnectConfig) ConnectTimeout() time.Duration {
	return time.Duration(r.ConnectTimeoutSeconds) * time.Second
}

func (r ReconnectConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMillis) * time.Millisecond
}

func (r ReconnectConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelaySeconds) * time.Second
}

// TradingConfig carries contract math defaults used when the account
// snapshot does not state them.
type TradingConfig struct {
	ContractSize    float64 `toml:"contract_size"`
	DefaultLeverage float64 `toml:"default_leverage"`
}

// SyncConfig controls the auto-sync loop and its edge triggers. The
// interval is one of the discrete choices 30s, 1m, 5m, 15m.
type SyncConfig struct {
	Interval        string `toml:"interval"`
	AutoSync        bool   `toml:"auto_sync"`
	OnForeground    bool   `toml:"on_foreground"`
	OnAccountSwitch bool   `toml:"on_account_switch"`
	PositionsOnly   bool   `toml:"positions_only"`
}

type JournalConfig struct {
	Path string `toml:"path"`
}

// AccountConfig links one broker account. Token, when present, is the
// stored OAuth access token; Secret feeds the gateway token exchange.
type AccountConfig struct {
	ID     string `toml:"id"`
	Token  string `toml:"token"`
	Secret string `toml:"secret"`
}
