package config

// Config is the whole file. Durations are Go duration strings ("10s", "1m").
//
// Example (YAML):
//
//	gateway:
//	  url: http://127.0.0.1:9000/api
//	  wxid: wxid_bot
//	morning:
//	  enable: true
//	  schedule: "0 7 * * 1-5"
//	  default_city: 重庆
//	  admins: [wxid_admin]
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Sources   SourcesConfig   `json:"sources"`
	Morning   MorningConfig   `json:"morning"`
}

type GatewayConfig struct {
	URL   string `json:"url"`
	Wxid  string `json:"wxid"`
	Token string `json:"token,omitempty"` // never logged

	Timeout      string  `json:"timeout,omitempty"`
	RatePerSec   float64 `json:"rate_per_sec,omitempty"`
	PollInterval string  `json:"poll_interval,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat forwards warnings and errors to an operator conversation.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	Target     string `json:"target"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type SchedulerConfig struct {
	Timezone string `json:"timezone,omitempty"` // IANA name, empty means local
}

// StorageConfig selects the preference store backend.
//
//	"storage": { "driver": "sqlite", "path": "./data/morning.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type SourcesConfig struct {
	HistoryURL         string `json:"history_url,omitempty"`
	WeatherURL         string `json:"weather_url,omitempty"`
	Timeout            string `json:"timeout,omitempty"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify"`
}

type MorningConfig struct {
	Enable   bool   `json:"enable"`
	Schedule string `json:"schedule"`
	// Timeout bounds one whole broadcast run.
	Timeout      string     `json:"timeout,omitempty"`
	DefaultCity  string     `json:"default_city"`
	HistoryLimit int        `json:"history_limit"`
	PaceMin      string     `json:"pace_min"`
	PaceMax      string     `json:"pace_max"`
	GroupSuffix  string     `json:"group_suffix,omitempty"`
	HelloTexts   [][]string `json:"hello_texts"`
	Admins       []string   `json:"admins"`
	Commands     Commands   `json:"commands"`
}

// Commands holds the configurable command words. Empty entries keep the default.
type Commands struct {
	SetBlacklist    string `json:"set_blacklist,omitempty"`
	GetBlacklist    string `json:"get_blacklist,omitempty"`
	DeleteBlacklist string `json:"delete_blacklist,omitempty"`
	SetWeather      string `json:"set_weather,omitempty"`
	GetWeather      string `json:"get_weather,omitempty"`
	DeleteWeather   string `json:"delete_weather,omitempty"`
}

// Default returns the values used for omitted fields.
func Default() Config {
	return Config{
		Gateway: GatewayConfig{
			Timeout:      "15s",
			RatePerSec:   2,
			PollInterval: "2s",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			File:    LoggingFile{Path: "./logs/morningbot.log"},
			Chat:    LoggingChat{MinLevel: "warn", RatePerSec: 1},
		},
		Storage: StorageConfig{Driver: "sqlite", Path: "./data/morningbot.db"},
		Sources: SourcesConfig{Timeout: "10s", InsecureSkipVerify: true},
		Morning: MorningConfig{
			Enable:       true,
			Schedule:     "0 7 * * 1-5",
			Timeout:      "30m",
			DefaultCity:  "重庆",
			HistoryLimit: 3,
			PaceMin:      "1s",
			PaceMax:      "5s",
			GroupSuffix:  "@chatroom",
			HelloTexts: [][]string{
				{"新的一天开始啦，祝大家元气满满！"},
			},
		},
	}
}
