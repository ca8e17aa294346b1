package broadcast

import (
	"fmt"
	"strings"
	"time"

	"morningbot/internal/enrich"
)

var weekdayChars = [...]string{
	time.Monday:    "一",
	time.Tuesday:   "二",
	time.Wednesday: "三",
	time.Thursday:  "四",
	time.Friday:    "五",
	time.Saturday:  "六",
	time.Sunday:    "日",
}

// GreetingLine renders "早上好！今天是 2026年10月12号，星期一".
func GreetingLine(now time.Time) string {
	return fmt.Sprintf("早上好！今天是 %s，星期%s", now.Format("2006年01月02号"), weekdayChars[now.Weekday()])
}

// Compose builds the message for one destination. Blocks are separated by a
// blank line; unavailable history or weather blocks are left out entirely.
func Compose(now time.Time, snap Snapshot, city string, greeting []string) string {
	parts := []string{GreetingLine(now)}
	if available(snap.History) {
		parts = append(parts, "", "历史上的今天：", snap.History)
	}
	if w := snap.Weather[city]; available(w) {
		parts = append(parts, "", w)
	}
	if len(greeting) > 0 {
		parts = append(parts, "")
		parts = append(parts, greeting...)
	}
	return strings.Join(parts, "\n")
}

func available(s string) bool {
	return s != "" && s != enrich.Unavailable
}
