package database_test

import (
	"strconv"
	"strings"
)

func itoa(v int) string { return strconv.Itoa(v) }

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func cutRange(s string) (lo, hi int, err error) {
	l, h, ok := strings.Cut(s, "-")
	if lo, err = strconv.Atoi(l); err != nil || !ok {
		return lo, lo, err
	}
	hi, err = strconv.Atoi(h)
	return lo, hi, err
}
