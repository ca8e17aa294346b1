package config

import (
	"reflect"

	logx "morningbot/pkg/logx"
)

// SummarizeChange lists the sections that differ and log fields describing
// the new values. Secrets are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		fields  []logx.Field
	)

	if !reflect.DeepEqual(oldCfg.Gateway, newCfg.Gateway) {
		changed = append(changed, "gateway")
		fields = append(fields,
			logx.String("gateway.url", newCfg.Gateway.URL),
			logx.Bool("gateway.token_set", newCfg.Gateway.Token != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.chat", newCfg.Logging.Chat.Enabled),
		)
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		fields = append(fields, logx.String("scheduler.timezone", newCfg.Scheduler.Timezone))
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
	}
	if oldCfg.Sources != newCfg.Sources {
		changed = append(changed, "sources")
	}
	if !reflect.DeepEqual(oldCfg.Morning, newCfg.Morning) {
		changed = append(changed, "morning")
		fields = append(fields,
			logx.Bool("morning.enable", newCfg.Morning.Enable),
			logx.String("morning.schedule", newCfg.Morning.Schedule),
			logx.Int("morning.admins", len(newCfg.Morning.Admins)),
			logx.Int("morning.hello_texts", len(newCfg.Morning.HelloTexts)),
		)
	}
	return changed, fields
}
