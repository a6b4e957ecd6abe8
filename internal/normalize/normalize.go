// Package normalize converts the archive's compact date and time encodings
// into the canonical forms stored alongside each disclosure.
package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LocalYearOffset is added to a local-calendar year to obtain the Gregorian year.
const LocalYearOffset = 1911

// ErrInvalidDate is returned when a raw date cannot be mapped to a calendar day.
var ErrInvalidDate = errors.New("invalid date")

// Date converts a raw archive date into YYYY-MM-DD.
//
// Strings of up to seven digits are read as a local-calendar date: the last
// four digits are MMDD and the leading digits are the local year. Eight-digit
// strings are read as a Gregorian YYYYMMDD date.
func Date(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" || !isDigits(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}

	var year int
	var mmdd string
	switch {
	case len(s) == 8:
		y, err := strconv.Atoi(s[:4])
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidDate, raw)
		}
		year, mmdd = y, s[4:]
	case len(s) > 4 && len(s) <= 7:
		y, err := strconv.Atoi(s[:len(s)-4])
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidDate, raw)
		}
		year, mmdd = y+LocalYearOffset, s[len(s)-4:]
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}

	month, _ := strconv.Atoi(mmdd[:2])
	day, _ := strconv.Atoi(mmdd[2:])
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return "", fmt.Errorf("%w: %q is not a calendar day", ErrInvalidDate, raw)
	}
	return t.Format(time.DateOnly), nil
}

// Time converts a raw archive time into HH:MM:SS. Everything but ASCII
// digits is dropped, the rest is left-padded with zeros to six digits and
// the first six are split into pairs; values are not range checked.
func Time(raw string) string {
	s := strings.Map(func(r rune) rune {
		if r < '0' || r > '9' {
			return -1
		}
		return r
	}, raw)
	if len(s) < 6 {
		s = strings.Repeat("0", 6-len(s)) + s
	}
	return s[0:2] + ":" + s[2:4] + ":" + s[4:6]
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
