// Copyright 2024-2026 Aiku AI

package slackfmt

import (
	"strconv"
	"strings"
	"time"
)

// CompareTimestamps orders two Slack message timestamps ("1700000000.000100").
// Both halves are compared numerically, so values of different widths order
// correctly. The empty string sorts before everything else. It returns -1,
// 0 or 1 like strings.Compare.
func CompareTimestamps(a, b string) int {
	if a == b {
		return 0
	}
	if a == "" {
		return -1
	}
	if b == "" {
		return 1
	}
	ai, af := splitTimestamp(a)
	bi, bf := splitTimestamp(b)
	if c := compareDigits(ai, bi); c != 0 {
		return c
	}
	for len(af) < len(bf) {
		af += "0"
	}
	for len(bf) < len(af) {
		bf += "0"
	}
	return strings.Compare(af, bf)
}

func splitTimestamp(ts string) (intPart, frac string) {
	intPart, frac, _ = strings.Cut(ts, ".")
	intPart = strings.TrimLeft(intPart, "0")
	return intPart, frac
}

func compareDigits(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// ParseTimestamp converts a message timestamp to wall time. Invalid input
// yields the zero time.
func ParseTimestamp(ts string) time.Time {
	intPart, frac, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var nsec int64
	if frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		frac += strings.Repeat("0", 9-len(frac))
		nsec, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return time.Time{}
		}
	}
	return time.Unix(sec, nsec)
}
