package config

const (
	defaultAppEnv         = "dev"
	defaultAppLogLevel    = "info"
	defaultAppHTTPAddr    = ":9981"
	defaultGatewayAPI     = "https://gateway.example.com/api/v1"
	defaultGatewayStream  = "wss://gateway.example.com/stream"
	defaultGatewayTimeout = 15
	defaultConnectTimeout = 10
	defaultBaseDelayMS    = 500
	defaultMaxDelaySec    = 30
	defaultMaxAttempts    = 8
	defaultContractSize   = 100_000
	defaultLeverage       = 100
	defaultSyncInterval   = "1m"
	defaultJournalPath    = "data/fxlink-journal.db"
)

func (c *Config) applyDefaults() {
	c.App.applyDefaults()
	c.Gateway.applyDefaults()
	c.Reconnect.applyDefaults()
	c.Trading.applyDefaults()
	c.Sync.applyDefaults()
	c.Journal.applyDefaults()
}

func (a *AppConfig) applyDefaults() {
	if a.Env == "" {
		a.Env = defaultAppEnv
	}
	if a.LogLevel == "" {
		a.LogLevel = defaultAppLogLevel
	}
	if a.HTTPAddr == "" {
		a.HTTPAddr = defaultAppHTTPAddr
	}
}

func (g *GatewayConfig) applyDefaults() {
	if g.APIURL == "" {
		g.APIURL = defaultGatewayAPI
	}
	if g.StreamURL == "" {
		g.StreamURL = defaultGatewayStream
	}
	if g.TimeoutSeconds <= 0 {
		g.TimeoutSeconds = defaultGatewayTimeout
	}
}

func (r *ReconnectConfig) applyDefaults() {
	if r.ConnectTimeoutSeconds <= 0 {
		r.ConnectTimeoutSeconds = defaultConnectTimeout
	}
	if r.BaseDelayMillis <= 0 {
		r.BaseDelayMillis = defaultBaseDelayMS
	}
	if r.MaxDelaySeconds <= 0 {
		r.MaxDelaySeconds = defaultMaxDelaySec
	}
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = defaultMaxAttempts
	}
}

func (t *TradingConfig) applyDefaults() {
	if t.ContractSize <= 0 {
		t.ContractSize = defaultContractSize
	}
	if t.DefaultLeverage <= 0 {
		t.DefaultLeverage = defaultLeverage
	}
}

func (s *SyncConfig) applyDefaults() {
	if s.Interval == "" {
		s.Interval = defaultSyncInterval
	}
}

func (j *JournalConfig) applyDefaults() {
	if j.Path == "" {
		j.Path = defaultJournalPath
	}
}
