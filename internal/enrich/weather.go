package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	logx "morningbot/pkg/logx"
)

const unknown = "未知"

// The weather source wraps its JSON in other markup; take the object starting
// with {"code":"1" up to the last closing brace.
var reWeatherJSON = regexp.MustCompile(`(?s)\{\s*"code"\s*:\s*"1".*\}`)

var weekdayNames = [...]string{
	time.Monday:    "周一",
	time.Tuesday:   "周二",
	time.Wednesday: "周三",
	time.Thursday:  "周四",
	time.Friday:    "周五",
	time.Saturday:  "周六",
	time.Sunday:    "周日",
}

// WeekdayName returns the day label the weather source uses ("周一".."周日").
func WeekdayName(d time.Weekday) string { return weekdayNames[d] }

type weatherPayload struct {
	Code string                       `json:"code"`
	Data []map[string]json.RawMessage `json:"data"`
}

// Weather returns a multi-line report of today's weather in city, or Unavailable.
func (c *Client) Weather(ctx context.Context, city string) (out string) {
	city = strings.TrimSpace(city)
	if city == "" {
		return Unavailable
	}
	log := c.log.With(logx.String("city", city))
	defer func() {
		if r := recover(); r != nil {
			log.Error("weather fetch panicked", logx.Any("panic", r))
			out = Unavailable
		}
	}()

	body, err := c.get(ctx, c.weatherCB, c.cfg.WeatherURL, url.Values{"msg": {city}, "type": {"1"}})
	if err != nil {
		log.Warn("weather fetch failed", logx.Err(err))
		return Unavailable
	}
	report, err := formatWeather(body, city, c.now().Weekday())
	if err != nil {
		log.Warn("weather payload rejected", logx.Err(err))
		return Unavailable
	}
	return report
}

func formatWeather(body []byte, city string, day time.Weekday) (string, error) {
	m := reWeatherJSON.Find(body)
	if m == nil {
		return "", fmt.Errorf("%w: no weather json found", errPayload)
	}
	var p weatherPayload
	if err := json.Unmarshal(m, &p); err != nil {
		return "", fmt.Errorf("%w: %v", errPayload, err)
	}
	if p.Code != "1" || len(p.Data) == 0 {
		return "", fmt.Errorf("%w: empty data", errPayload)
	}

	want := WeekdayName(day)
	var today map[string]json.RawMessage
	for _, d := range p.Data {
		if field(d, "riqi") == want {
			today = d
			break
		}
	}
	if today == nil {
		return "", fmt.Errorf("%w: %s not in forecast window", errPayload, want)
	}

	return fmt.Sprintf("%s今日天气：\n温度：%s\n天气：%s\n风力：%s\n空气质量：%s",
		city,
		orUnknown(field(today, "wendu")),
		orUnknown(field(today, "tianqi")),
		orUnknown(field(today, "fengdu")),
		orUnknown(field(today, "pm")),
	), nil
}

// field returns a string value, or the JSON text of a non-string value.
func field(d map[string]json.RawMessage, key string) string {
	raw, ok := d[key]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}
