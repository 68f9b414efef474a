package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if err := c.Gateway.validate(); err != nil {
		return err
	}
	if err := c.Sync.validate(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Accounts))
	for _, acct := range c.Accounts {
		id := strings.TrimSpace(acct.ID)
		if id == "" {
			return fmt.Errorf("accounts entry missing id")
		}
		if seen[id] {
			return fmt.Errorf("duplicate account id: %s", id)
		}
		seen[id] = true
	}
	return nil
}

func (g *GatewayConfig) validate() error {
	if strings.TrimSpace(g.APIURL) == "" {
		return fmt.Errorf("gateway.api_url cannot be empty")
	}
	if strings.TrimSpace(g.StreamURL) == "" {
		return fmt.Errorf("gateway.stream_url cannot be empty")
	}
	return nil
}

func (s *SyncConfig) validate() error {
	if _, ok := ParseSyncInterval(s.Interval); !ok {
		return fmt.Errorf("sync.interval must be one of 30s, 1m, 5m, 15m (got %q)", s.Interval)
	}
	return nil
}
