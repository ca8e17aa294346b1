package commands

import (
	"slices"
	"strings"
	"time"
)

// InfoToken is the fixed diagnostic command.
const InfoToken = "早安信息"

// Tokens are the configurable command words.
type Tokens struct {
	SetBlacklist    string `json:"set_blacklist"`
	GetBlacklist    string `json:"get_blacklist"`
	DeleteBlacklist string `json:"delete_blacklist"`
	SetWeather      string `json:"set_weather"`
	GetWeather      string `json:"get_weather"`
	DeleteWeather   string `json:"delete_weather"`
}

func DefaultTokens() Tokens {
	return Tokens{
		SetBlacklist:    "设置早安黑名单",
		GetBlacklist:    "早安黑名单列表",
		DeleteBlacklist: "删除早安黑名单",
		SetWeather:      "设置早安天气",
		GetWeather:      "早安天气列表",
		DeleteWeather:   "删除早安天气",
	}
}

// withDefaults fills empty tokens from DefaultTokens.
func (t Tokens) withDefaults() Tokens {
	d := DefaultTokens()
	fill := func(v *string, def string) {
		if s := strings.TrimSpace(*v); s != "" {
			*v = s
			return
		}
		*v = def
	}
	fill(&t.SetBlacklist, d.SetBlacklist)
	fill(&t.GetBlacklist, d.GetBlacklist)
	fill(&t.DeleteBlacklist, d.DeleteBlacklist)
	fill(&t.SetWeather, d.SetWeather)
	fill(&t.GetWeather, d.GetWeather)
	fill(&t.DeleteWeather, d.DeleteWeather)
	return t
}

type Config struct {
	Admins []string
	Tokens Tokens
	// Timeout bounds a single handler invocation.
	Timeout time.Duration
}

const defaultTimeout = 30 * time.Second

func (c Config) normalize() Config {
	admins := make([]string, 0, len(c.Admins))
	for _, a := range c.Admins {
		if a = strings.TrimSpace(a); a != "" && !slices.Contains(admins, a) {
			admins = append(admins, a)
		}
	}
	c.Admins = admins
	c.Tokens = c.Tokens.withDefaults()
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}
