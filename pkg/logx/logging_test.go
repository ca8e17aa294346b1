package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []chatItem
}

func (r *recordingSender) SendText(_ context.Context, to, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, chatItem{to: to, msg: text})
	return nil
}

func (r *recordingSender) items() []chatItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]chatItem(nil), r.sent...)
}

func TestLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))
	log.Info("hello", Int("n", 3), Err(errors.New("boom")))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "hello", m["message"])
	assert.Equal(t, "test", m["comp"])
	assert.EqualValues(t, 3, m["n"])
	assert.Equal(t, "boom", m["err"])
	assert.Contains(t, m["caller"], "logging_test.go:")
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var log Logger
	assert.True(t, log.IsZero())
	log.Error("ignored")
	assert.False(t, Nop().IsZero())
}

func TestFormatChatJSON(t *testing.T) {
	line := []byte(`{"level":"warn","time":"x","message":"send failed","to":"g1@chatroom","comp":"broadcast"}`)
	got := formatChatJSON(line)
	assert.Equal(t, "[WARN] send failed\n- comp=broadcast\n- to=g1@chatroom", got)

	assert.Equal(t, "plain text", formatChatJSON([]byte("  plain text \n")))
}

func TestChatSinkForwardsAboveMinLevel(t *testing.T) {
	sender := &recordingSender{}
	svc, log := New(Config{
		Level: "debug",
		Chat:  ChatConfig{Enabled: true, Target: "ops@chatroom", MinLevel: "warn", RatePerSec: 100},
	}, sender)
	defer svc.Close()

	log.Info("quiet")
	log.Warn("loud", String("k", "v"))

	require.Eventually(t, func() bool { return len(sender.items()) == 1 }, 2*time.Second, 10*time.Millisecond)
	it := sender.items()[0]
	assert.Equal(t, "ops@chatroom", it.to)
	assert.Contains(t, it.msg, "[WARN] loud")
	assert.Contains(t, it.msg, "- k=v")
}

func TestValidLevel(t *testing.T) {
	for _, lvl := range []string{"", "debug", "INFO", "warning"} {
		assert.True(t, ValidLevel(lvl), lvl)
	}
	assert.False(t, ValidLevel("verbose"))
}
