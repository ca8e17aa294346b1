package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "morningbot/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		in    string
		kind  SpecKind
		spec  string
		every time.Duration
		err   bool
	}{
		{in: "0 7 * * 1-5", kind: SpecCron, spec: "0 7 * * 1-5"},
		{in: "@daily", kind: SpecCron, spec: "@daily"},
		{in: "cron:*/5 * * * *", kind: SpecCron, spec: "*/5 * * * *"},
		{in: "55m", kind: SpecInterval, every: 55 * time.Minute},
		{in: "02:30", kind: SpecInterval, every: 2*time.Hour + 30*time.Minute},
		{in: "every:90s", kind: SpecInterval, every: 90 * time.Second},
		{in: "", err: true},
		{in: "cron:", err: true},
		{in: "00:00", err: true},
		{in: "01:75", err: true},
		{in: "-5m", err: true},
		{in: "soon", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ps, err := ParseSchedule(tt.in)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, ps.Kind)
			if tt.kind == SpecCron {
				assert.Equal(t, tt.spec, ps.Cron)
			} else {
				assert.Equal(t, tt.every, ps.Every)
				assert.Equal(t, "@every "+tt.every.String(), ps.Spec())
			}
		})
	}
}

func TestValidateSchedule(t *testing.T) {
	require.NoError(t, ValidateSchedule(DefaultBroadcastSchedule))
	require.NoError(t, ValidateSchedule("0 0 7 * * 1-5"))
	require.NoError(t, ValidateSchedule("1h"))
	require.Error(t, ValidateSchedule("0 7 * *"))
	require.Error(t, ValidateSchedule("61 7 * * 1-5"))
}

func TestNextRespectsTimezone(t *testing.T) {
	s := New(Config{Timezone: "Asia/Shanghai"}, logx.Nop())
	require.NoError(t, s.AddCron("morning", DefaultBroadcastSchedule, time.Minute, func(context.Context) error { return nil }))
	s.Start()
	defer s.Stop(context.Background())

	next := s.Next("morning")
	require.False(t, next.IsZero())
	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)
	local := next.In(loc)
	assert.Equal(t, 7, local.Hour())
	assert.Equal(t, 0, local.Minute())
	assert.NotEqual(t, time.Saturday, local.Weekday())
	assert.NotEqual(t, time.Sunday, local.Weekday())

	assert.True(t, s.Next("missing").IsZero())
}

func TestRunNowSkipsWhileRunning(t *testing.T) {
	s := New(Config{}, logx.Nop())
	var runs atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	require.NoError(t, s.AddCron("slow", DefaultBroadcastSchedule, time.Minute, func(ctx context.Context) error {
		runs.Add(1)
		started <- struct{}{}
		<-release
		return nil
	}))

	require.NoError(t, s.RunNow("slow"))
	<-started
	require.NoError(t, s.RunNow("slow"))
	time.Sleep(50 * time.Millisecond)
	close(release)

	assert.EqualValues(t, 1, runs.Load())
	assert.ErrorIs(t, s.RunNow("nope"), ErrUnknownJob)
}

func TestJobPanicIsRecovered(t *testing.T) {
	s := New(Config{}, logx.Nop())
	done := make(chan struct{})
	require.NoError(t, s.AddCron("panicky", DefaultBroadcastSchedule, 0, func(ctx context.Context) error {
		defer close(done)
		panic("boom")
	}))
	require.NoError(t, s.RunNow("panicky"))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestJobReceivesTimeout(t *testing.T) {
	s := New(Config{}, logx.Nop())
	got := make(chan error, 1)
	require.NoError(t, s.AddCron("bounded", DefaultBroadcastSchedule, 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		got <- ctx.Err()
		return ctx.Err()
	}))
	require.NoError(t, s.RunNow("bounded"))
	select {
	case err := <-got:
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	case <-time.After(2 * time.Second):
		t.Fatal("timeout not applied")
	}
}

func TestAddCronRejectsBadInput(t *testing.T) {
	s := New(Config{}, logx.Nop())
	noop := func(context.Context) error { return nil }
	require.Error(t, s.AddCron("", DefaultBroadcastSchedule, 0, noop))
	require.Error(t, s.AddCron("x", "bogus spec here", 0, noop))
	require.Error(t, s.AddCron("x", DefaultBroadcastSchedule, 0, nil))
	require.Error(t, s.AddSchedule("x", "soon", 0, noop))
}

func TestApplyTimezoneReregisters(t *testing.T) {
	s := New(Config{Timezone: "UTC"}, logx.Nop())
	require.NoError(t, s.AddCron("morning", "0 7 * * *", 0, func(context.Context) error { return nil }))
	s.Start()
	defer s.Stop(context.Background())

	s.Apply(Config{Timezone: "Asia/Shanghai"})
	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)
	next := s.Next("morning")
	require.False(t, next.IsZero())
	assert.Equal(t, 7, next.In(loc).Hour())
	assert.True(t, s.Remove("morning"))
	assert.False(t, s.Remove("morning"))
}
