package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"morningbot/internal/commands"
	"morningbot/internal/scheduler"
	logx "morningbot/pkg/logx"
)

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Gateway.URL) == "" {
		add(fmt.Errorf("gateway.url is required (or set %s)", EnvGatewayURL))
	}
	if strings.TrimSpace(cfg.Gateway.Wxid) == "" {
		add(errors.New("gateway.wxid is required"))
	}
	if cfg.Gateway.RatePerSec < 0 {
		add(errors.New("gateway.rate_per_sec must be >= 0"))
	}

	for field, raw := range map[string]string{
		"gateway.timeout":       cfg.Gateway.Timeout,
		"gateway.poll_interval": cfg.Gateway.PollInterval,
		"storage.busy_timeout":  cfg.Storage.BusyTimeout,
		"sources.timeout":       cfg.Sources.Timeout,
		"morning.timeout":       cfg.Morning.Timeout,
	} {
		_, err := Duration(field, raw, 0)
		add(err)
	}
	paceMin, errMin := Duration("morning.pace_min", cfg.Morning.PaceMin, 0)
	paceMax, errMax := Duration("morning.pace_max", cfg.Morning.PaceMax, 0)
	add(errMin)
	add(errMax)
	if errMin == nil && errMax == nil && paceMax < paceMin {
		add(fmt.Errorf("morning.pace_max (%s) must be >= morning.pace_min (%s)", paceMax, paceMin))
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if err := scheduler.ValidateSchedule(cfg.Morning.Schedule); err != nil {
		add(fmt.Errorf("morning.schedule: %w", err))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "file", "json":
	default:
		add(fmt.Errorf("storage.driver %q is not supported (use sqlite or file)", cfg.Storage.Driver))
	}

	if !logx.ValidLevel(cfg.Logging.Level) {
		add(fmt.Errorf("logging.level %q is invalid", cfg.Logging.Level))
	}
	if c := cfg.Logging.Chat; c.Enabled {
		if strings.TrimSpace(c.Target) == "" {
			add(errors.New("logging.chat.target is required when chat logging is enabled"))
		}
		if !logx.ValidLevel(c.MinLevel) {
			add(fmt.Errorf("logging.chat.min_level %q is invalid", c.MinLevel))
		}
	}

	if cfg.Morning.HistoryLimit < 0 {
		add(errors.New("morning.history_limit must be >= 0"))
	}
	for i, t := range cfg.Morning.HelloTexts {
		if len(t) == 0 {
			add(fmt.Errorf("morning.hello_texts[%d] is empty", i))
		}
	}
	add(validateCommands(cfg.Morning.Commands))

	return errors.Join(errs...)
}

func validateCommands(c Commands) error {
	seen := map[string]string{commands.InfoToken: "the fixed info command"}
	for field, tok := range map[string]string{
		"set_blacklist":    c.SetBlacklist,
		"get_blacklist":    c.GetBlacklist,
		"delete_blacklist": c.DeleteBlacklist,
		"set_weather":      c.SetWeather,
		"get_weather":      c.GetWeather,
		"delete_weather":   c.DeleteWeather,
	} {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if strings.ContainsFunc(tok, unicode.IsSpace) {
			return fmt.Errorf("morning.commands.%s must be a single word", field)
		}
		if other, dup := seen[tok]; dup {
			return fmt.Errorf("morning.commands.%s duplicates %s (%q)", field, other, tok)
		}
		seen[tok] = field
	}
	return nil
}
