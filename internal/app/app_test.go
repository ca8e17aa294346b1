package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"morningbot/internal/broadcast"
	"morningbot/internal/config"
)

type sentMsg struct{ to, text string }

func newGateway(t *testing.T) (string, func() []sentMsg) {
	t.Helper()
	var (
		mu   sync.Mutex
		sent []sentMsg
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		var data any
		switch r.URL.Path {
		case "/GetContractList":
			data = map[string]any{
				"ContactUsernameList": []string{"wxid_friend", "g1@chatroom", "g2@chatroom"},
				"CountinueFlag":       0,
			}
		case "/SendTextMsg":
			mu.Lock()
			sent = append(sent, sentMsg{to: body["ToWxid"].(string), text: body["Content"].(string)})
			mu.Unlock()
		default:
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"Success": true, "Data": data})
	}))
	t.Cleanup(srv.Close)
	return srv.URL, func() []sentMsg {
		mu.Lock()
		defer mu.Unlock()
		return append([]sentMsg(nil), sent...)
	}
}

// writeConfig renders a config; extra lines are prepended as top-level sections.
func writeConfig(t *testing.T, gatewayURL string, extra ...string) string {
	t.Helper()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(down.Close)

	dir := t.TempDir()
	body := strings.Join(append(extra,
		"gateway:",
		"  url: " + gatewayURL,
		"  wxid: wxid_bot",
		"  rate_per_sec: 1000",
		"logging:",
		"  level: error",
		"  console: false",
		"storage:",
		"  driver: sqlite",
		"  path: " + filepath.Join(dir, "prefs.db"),
		"sources:",
		"  history_url: " + down.URL,
		"  weather_url: " + down.URL,
		"  timeout: 2s",
		"morning:",
		"  admins: [wxid_admin]",
		"  hello_texts:",
		"    - [\"大家早上好\"]",
		"",
	), "\n")
	p := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestRunOnceSkipsBlacklistedGroups(t *testing.T) {
	gw, sent := newGateway(t)
	a, err := New(writeConfig(t, gw))
	require.NoError(t, err)
	defer func() { _ = a.Stop(context.Background(), StopRunOnce) }()

	require.True(t, a.prefs.UpsertBlacklist(context.Background(), "g2@chatroom", "quiet group"))

	rep, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Total)
	assert.Equal(t, 1, rep.Blacklisted)
	assert.Equal(t, 1, rep.Sent)

	msgs := sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, "g1@chatroom", msgs[0].to)
	assert.Contains(t, msgs[0].text, "早上好！今天是")
	assert.Contains(t, msgs[0].text, "大家早上好")
	assert.NotContains(t, msgs[0].text, "N/A")
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte("gateway:\n  wxid: wxid_bot\n"), 0o644))
	_, err := New(p)
	require.Error(t, err)
}

func TestApplyReschedulesMorning(t *testing.T) {
	gw, _ := newGateway(t)
	a, err := New(writeConfig(t, gw))
	require.NoError(t, err)
	defer func() { _ = a.Stop(context.Background(), StopRunOnce) }()
	a.sched.Start()

	oldCfg := a.cfgm.Get()
	first := a.sched.Next(MorningJob)
	require.False(t, first.IsZero())

	newCfg := *oldCfg
	newCfg.Morning.Schedule = "every:1h"
	a.apply(oldCfg, &newCfg)

	next := a.sched.Next(MorningJob)
	require.False(t, next.IsZero())
	assert.WithinDuration(t, time.Now().Add(time.Hour), next, 5*time.Second)

	// An invalid schedule keeps the previous entry.
	broken := newCfg
	broken.Morning.Schedule = "not a schedule"
	a.apply(&newCfg, &broken)
	assert.Equal(t, next, a.sched.Next(MorningJob))
}

func TestMapStorageConfig(t *testing.T) {
	cfg := config.Default()
	sc, err := mapStorageConfig(&cfg)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, time.Second, sc.BusyTimeout)

	cfg.Storage = config.StorageConfig{Driver: "json", Path: "./prefs.json"}
	sc, err = mapStorageConfig(&cfg)
	require.NoError(t, err)
	assert.Equal(t, "file", sc.Driver)

	cfg.Storage = config.StorageConfig{Driver: "sqlite"}
	_, err = mapStorageConfig(&cfg)
	require.Error(t, err)
}

func TestBroadcastDateFollowsSchedulerTimezone(t *testing.T) {
	gw, sent := newGateway(t)
	a, err := New(writeConfig(t, gw, "scheduler:", "  timezone: Pacific/Kiritimati"))
	require.NoError(t, err)
	defer func() { _ = a.Stop(context.Background(), StopRunOnce) }()

	loc, err := time.LoadLocation("Pacific/Kiritimati")
	require.NoError(t, err)
	require.Equal(t, loc.String(), a.clock.Location().String())
	require.True(t, a.prefs.UpsertBlacklist(context.Background(), "g2@chatroom", "quiet group"))

	before := broadcast.GreetingLine(time.Now().In(loc))
	_, err = a.RunOnce(context.Background())
	require.NoError(t, err)
	after := broadcast.GreetingLine(time.Now().In(loc))

	msgs := sent()
	require.Len(t, msgs, 1)
	if !strings.Contains(msgs[0].text, before) {
		assert.Contains(t, msgs[0].text, after)
	}

	// A reload moves the clock with the scheduler.
	oldCfg := a.cfgm.Get()
	newCfg := *oldCfg
	newCfg.Scheduler.Timezone = "Pacific/Pago_Pago"
	a.apply(oldCfg, &newCfg)
	assert.Equal(t, "Pacific/Pago_Pago", a.clock.Location().String())
	assert.Equal(t, "Pacific/Pago_Pago", a.clock.Now().Location().String())
}
