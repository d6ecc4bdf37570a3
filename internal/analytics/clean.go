package analytics

import (
	"math"
	"strconv"
	"strings"
	"time"
)

var currencyReplacer = strings.NewReplacer(
	"€", "", "$", "", "£", "",
	"EUR", "", "USD", "", "GBP", "", "CAD", "", "AUD", "",
	" ", "", "\u00a0", "", "\u202f", "", "'", "",
)

// ParseNumber coerces a money or count cell. Currency symbols and codes
// are stripped; when both ',' and '.' appear the last one is the decimal
// separator, a lone ',' is treated as decimal unless repeated.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(currencyReplacer.Replace(s))
	if s == "" {
		return 0, false
	}

	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg, s = true, s[1:len(s)-1]
	}

	comma, dot := strings.LastIndex(s, ","), strings.LastIndex(s, ".")
	switch {
	case comma >= 0 && dot >= 0 && comma > dot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case comma >= 0 && dot >= 0:
		s = strings.ReplaceAll(s, ",", "")
	case strings.Count(s, ",") > 1:
		s = strings.ReplaceAll(s, ",", "")
	case comma >= 0:
		s = strings.Replace(s, ",", ".", 1)
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	if neg {
		v = -v
	}
	return v, true
}

// US exports are month-first, so 01/02 layouts are tried before 02/01.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"01/02/2006",
	"01/02/06",
	"01/02/2006 15:04",
	"02/01/2006",
	"02/01/06",
	"02/01/2006 15:04",
	"2006/01/02",
	"02.01.2006",
	"02-01-2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
}

// ParseDate accepts the date formats seen in Etsy exports.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func pct(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	return round2(part / whole * 100)
}
