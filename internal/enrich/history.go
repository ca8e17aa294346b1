package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	logx "morningbot/pkg/logx"
)

type historyPayload struct {
	Data []json.RawMessage `json:"data"`
}

// HistoryToday returns at most limit "this day in history" entries, newline-joined
// in source order, or Unavailable.
func (c *Client) HistoryToday(ctx context.Context, limit int) (out string) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("history fetch panicked", logx.Any("panic", r))
			out = Unavailable
		}
	}()

	body, err := c.get(ctx, c.historyCB, c.cfg.HistoryURL, nil)
	if err != nil {
		c.log.Warn("history fetch failed", logx.Err(err))
		return Unavailable
	}
	text, err := formatHistory(body, limit)
	if err != nil {
		c.log.Warn("history payload rejected", logx.Err(err))
		return Unavailable
	}
	c.log.Debug("history fetched", logx.Int("bytes", len(body)))
	return text
}

func formatHistory(body []byte, limit int) (string, error) {
	var p historyPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return "", err
	}
	if len(p.Data) == 0 {
		return "", errPayload
	}
	if len(p.Data) > limit {
		p.Data = p.Data[:limit]
	}
	lines := make([]string, 0, len(p.Data))
	for _, raw := range p.Data {
		lines = append(lines, entryText(raw))
	}
	return strings.Join(lines, "\n"), nil
}

// entryText renders a JSON string as itself and anything else as compact JSON.
func entryText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
