package crawler

import (
	"fmt"
	"time"
)

// EngineConfig captures the traversal and pacing knobs of a crawl run.
type EngineConfig struct {
	Markets       []Market
	FloorYear     int
	Workers       int
	PageCooldown  time.Duration
	MonthCooldown time.Duration
}

// DefaultMarkets lists the two boards the archive publishes.
func DefaultMarkets() []Market {
	return []Market{
		{Kind: "L", Name: "上市"},
		{Kind: "O", Name: "上櫃"},
	}
}

// Validate checks for obviously bad configuration combinations.
func (c EngineConfig) Validate() error {
	if len(c.Markets) == 0 {
		return fmt.Errorf("crawl.markets must include at least one market")
	}
	for i, m := range c.Markets {
		if m.Kind == "" {
			return fmt.Errorf("crawl.markets[%d].kind must be set", i)
		}
	}
	if c.FloorYear <= 0 {
		return fmt.Errorf("crawl.floor_year must be > 0")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("crawl.workers must be > 0")
	}
	if c.PageCooldown < 0 {
		return fmt.Errorf("crawl.page_cooldown_seconds must be >= 0")
	}
	if c.MonthCooldown < 0 {
		return fmt.Errorf("crawl.month_cooldown_seconds must be >= 0")
	}
	return nil
}
