package app

import (
	"fmt"
	"strings"
	"time"

	"morningbot/internal/broadcast"
	"morningbot/internal/commands"
	"morningbot/internal/config"
	"morningbot/internal/enrich"
	"morningbot/internal/scheduler"
	"morningbot/internal/storage"
	"morningbot/internal/transport/wechat"
	logx "morningbot/pkg/logx"
)

// Config values reaching these helpers have passed config.Validate, so
// MustDuration only supplies defaults for omitted fields.

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "file", "json":
		return storage.Config{Driver: "file", Path: path}, nil
	case "", "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.Duration("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    l.Chat.Enabled,
			Target:     l.Chat.Target,
			MinLevel:   l.Chat.MinLevel,
			RatePerSec: l.Chat.RatePerSec,
		},
	}
}

func mapGatewayConfig(cfg *config.Config) wechat.Config {
	g := cfg.Gateway
	return wechat.Config{
		BaseURL:      g.URL,
		Wxid:         g.Wxid,
		Token:        g.Token,
		Timeout:      config.MustDuration(g.Timeout, 15*time.Second),
		RatePerSec:   g.RatePerSec,
		PollInterval: config.MustDuration(g.PollInterval, 2*time.Second),
	}
}

func mapSourcesConfig(cfg *config.Config) enrich.Config {
	s := cfg.Sources
	return enrich.Config{
		HistoryURL:         s.HistoryURL,
		WeatherURL:         s.WeatherURL,
		Timeout:            config.MustDuration(s.Timeout, 10*time.Second),
		InsecureSkipVerify: s.InsecureSkipVerify,
	}
}

func mapBroadcastConfig(cfg *config.Config) broadcast.Config {
	m := cfg.Morning
	return broadcast.Config{
		Enabled:      m.Enable,
		DefaultCity:  m.DefaultCity,
		HistoryLimit: m.HistoryLimit,
		Greetings:    m.HelloTexts,
		PaceMin:      config.MustDuration(m.PaceMin, broadcast.DefaultPaceMin),
		PaceMax:      config.MustDuration(m.PaceMax, broadcast.DefaultPaceMax),
		GroupSuffix:  m.GroupSuffix,
	}
}

func mapCommandsConfig(cfg *config.Config) commands.Config {
	c := cfg.Morning.Commands
	return commands.Config{
		Admins: cfg.Morning.Admins,
		Tokens: commands.Tokens{
			SetBlacklist:    c.SetBlacklist,
			GetBlacklist:    c.GetBlacklist,
			DeleteBlacklist: c.DeleteBlacklist,
			SetWeather:      c.SetWeather,
			GetWeather:      c.GetWeather,
			DeleteWeather:   c.DeleteWeather,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Timezone: cfg.Scheduler.Timezone}
}

func morningTimeout(cfg *config.Config) time.Duration {
	return config.MustDuration(cfg.Morning.Timeout, 30*time.Minute)
}
