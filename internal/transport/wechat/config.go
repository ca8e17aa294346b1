package wechat

import "time"

type Config struct {
	// BaseURL is the gateway API root, e.g. http://127.0.0.1:9000/api.
	BaseURL string
	// Wxid is the logged-in account the gateway acts for.
	Wxid  string
	Token string

	Timeout      time.Duration
	RatePerSec   float64
	PollInterval time.Duration
}

const (
	defaultTimeout      = 15 * time.Second
	defaultRatePerSec   = 2
	defaultPollInterval = 2 * time.Second
)

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = defaultRatePerSec
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	return c
}
