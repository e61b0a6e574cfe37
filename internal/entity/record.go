package entity

import (
	"strconv"
	"strings"
	"time"
)

func seriesKey(parts ...string) string {
	return strings.Join(parts, "|")
}

func timeKey(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
