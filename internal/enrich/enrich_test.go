package enrich

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "morningbot/pkg/logx"
)

// 2026-10-12 is a Monday.
var monday = time.Date(2026, 10, 12, 7, 0, 0, 0, time.Local)

const wrappedWeather = `<html><body>garbage <b>{ not json }</b>
{"code":"1","msg":"ok","data":[{"riqi":"周一","wendu":"20","tianqi":"晴","fengdu":"3级","pm":"50"},{"riqi":"周二","wendu":"18","tianqi":"多云"}]}
trailing text</body></html>`

func newTestClient(t *testing.T, h http.Handler, now time.Time) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{
		HistoryURL: srv.URL + "/api/history",
		WeatherURL: srv.URL + "/api/weather",
		Timeout:    2 * time.Second,
	}, logx.Nop(), WithHTTPClient(srv.Client()), WithClock(func() time.Time { return now }))
}

func TestFormatWeather_ExtractsWrappedJSON(t *testing.T) {
	got, err := formatWeather([]byte(wrappedWeather), "重庆", time.Monday)
	require.NoError(t, err)
	assert.Equal(t, "重庆今日天气：\n温度：20\n天气：晴\n风力：3级\n空气质量：50", got)
}

func TestFormatWeather_Cases(t *testing.T) {
	tests := []struct {
		name string
		body string
		day  time.Weekday
		want string
		err  bool
	}{
		{
			name: "missing subfields are unknown",
			body: wrappedWeather,
			day:  time.Tuesday,
			want: "北京今日天气：\n温度：18\n天气：多云\n风力：未知\n空气质量：未知",
		},
		{
			name: "numeric values keep their text",
			body: `{"code":"1","data":[{"riqi":"周三","wendu":21,"tianqi":"雨","pm":null}]}`,
			day:  time.Wednesday,
			want: "北京今日天气：\n温度：21\n天气：雨\n风力：未知\n空气质量：未知",
		},
		{name: "today absent from window", body: wrappedWeather, day: time.Sunday, err: true},
		{name: "no embedded json", body: `<html>service busy</html>`, day: time.Monday, err: true},
		{name: "failure code", body: `{"code":"0","data":[]}`, day: time.Monday, err: true},
		{name: "broken json", body: `{"code":"1","data":[{"riqi":"周一"}} }`, day: time.Monday, err: true},
		{name: "empty data", body: `{"code":"1","data":[]}`, day: time.Monday, err: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := formatWeather([]byte(tt.body), "北京", tt.day)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWeather_MatchesTodayByWeekdayName(t *testing.T) {
	var gotQuery string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(wrappedWeather))
	}), monday)

	got := c.Weather(context.Background(), "Paris")
	assert.Contains(t, got, "20")
	assert.Contains(t, got, "晴")
	assert.Contains(t, got, "50")
	assert.True(t, strings.HasPrefix(got, "Paris今日天气："))
	assert.Contains(t, gotQuery, "msg=Paris")
	assert.Contains(t, gotQuery, "type=1")
}

func TestWeather_AbsentWeekdayIsUnavailable(t *testing.T) {
	sunday := monday.AddDate(0, 0, 6)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(wrappedWeather))
	}), sunday)

	assert.Equal(t, Unavailable, c.Weather(context.Background(), "Paris"))
}

func TestWeather_TransportFailuresAreUnavailable(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}), monday)
	assert.Equal(t, Unavailable, c.Weather(context.Background(), "Paris"))
	assert.Equal(t, Unavailable, c.Weather(context.Background(), "  "))
}

func TestWeather_TimeoutIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	c := New(Config{WeatherURL: srv.URL, Timeout: 50 * time.Millisecond}, logx.Nop(),
		WithClock(func() time.Time { return monday }))

	assert.Equal(t, Unavailable, c.Weather(context.Background(), "Paris"))
}

func TestHistoryToday_TakesLimitInSourceOrder(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":200,"data":["e1","e2","e3","e4","e5"]}`))
	}), monday)

	assert.Equal(t, "e1\ne2\ne3", c.HistoryToday(context.Background(), 3))
	assert.Equal(t, "e1\ne2\ne3\ne4\ne5", c.HistoryToday(context.Background(), 10))
	assert.Equal(t, "e1\ne2\ne3", c.HistoryToday(context.Background(), 0), "non-positive limit falls back to 3")
}

func TestHistoryToday_ObjectEntriesRenderAsJSON(t *testing.T) {
	got, err := formatHistory([]byte(`{"data":[{"year": 1066, "event":"Hastings"}, 42]}`), 3)
	require.NoError(t, err)
	assert.Equal(t, `{"year":1066,"event":"Hastings"}`+"\n42", got)
}

func TestHistoryToday_Failures(t *testing.T) {
	bodies := []string{`{"data":[]}`, `{"msg":"no data"}`, `not json`, `{"data":null}`}
	for i, body := range bodies {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}), monday)
			assert.Equal(t, Unavailable, c.HistoryToday(context.Background(), 3))
		})
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}), monday)

	for i := 0; i < 8; i++ {
		assert.Equal(t, Unavailable, c.HistoryToday(context.Background(), 3))
	}
	assert.EqualValues(t, 5, hits.Load(), "open breaker short-circuits without calling upstream")
}

func TestWeekdayName(t *testing.T) {
	assert.Equal(t, "周一", WeekdayName(time.Monday))
	assert.Equal(t, "周日", WeekdayName(time.Sunday))
}
