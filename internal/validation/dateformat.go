package validation

import (
	"strings"
	"time"
)

const (
	isoDate       = "2006-01-02"
	defaultFormat = "yyyy-MM-dd"
)

// dateTokens maps the date format tokens accepted in validation rules to Go
// layout elements. Longer tokens come first so that "yyyy" wins over "yy".
var dateTokens = []struct{ token, layout string }{
	{"yyyy", "2006"},
	{"yy", "06"},
	{"MMMM", "January"},
	{"MMM", "Jan"},
	{"MM", "01"},
	{"M", "1"},
	{"dddd", "Monday"},
	{"ddd", "Mon"},
	{"dd", "02"},
	{"d", "2"},
	{"HH", "15"},
	{"hh", "03"},
	{"h", "3"},
	{"mm", "04"},
	{"m", "4"},
	{"ss", "05"},
	{"s", "5"},
	{"tt", "PM"},
}

// Layout converts a yyyy-MM-dd style format into a Go time layout. An empty
// format means yyyy-MM-dd. Characters that are not tokens are copied as is.
func Layout(format string) string {
	if format == "" {
		format = defaultFormat
	}
	var b strings.Builder
	for i := 0; i < len(format); {
		matched := false
		for _, t := range dateTokens {
			if strings.HasPrefix(format[i:], t.token) {
				b.WriteString(t.layout)
				i += len(t.token)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(format[i])
			i++
		}
	}
	return b.String()
}

var boundLayouts = []string{isoDate, time.RFC3339, "2006-01-02T15:04:05", "02.01.2006"}

// parseBound reads a min_date or max_date setting. Unparsable bounds are
// ignored by the caller.
func parseBound(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range boundLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return truncateDay(t), true
		}
	}
	return time.Time{}, false
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func today(now time.Time) time.Time { return truncateDay(now.UTC()) }
