// Package duration parses and prints durations with day and week units.
//
// Retention periods and report windows are naturally written as "30d" or
// "2w"; time.ParseDuration stops at hours. Parse accepts both forms:
//
//	30d     = 720h
//	1w2d12h = 9 days 12 hours
//	90s     = 90 seconds
package duration

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

const (
	// Day is 24 hours.
	Day = 24 * time.Hour
	// Week is 7 days.
	Week = 7 * Day
)

var longUnit = regexp.MustCompile(`(?i)(\d+)\s*(weeks?|w|days?|d)`)

// Parse parses s as a Go duration that may also carry d and w components.
func Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("duration: empty string")
	}

	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	var long time.Duration
	var convErr error
	rest := longUnit.ReplaceAllStringFunc(s, func(m string) string {
		parts := longUnit.FindStringSubmatch(m)
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			convErr = err
			return ""
		}
		unit := Day
		if strings.HasPrefix(strings.ToLower(parts[2]), "w") {
			unit = Week
		}
		long += time.Duration(n) * unit
		return ""
	})
	if convErr != nil {
		return 0, fmt.Errorf("duration: %w", convErr)
	}

	rest = strings.Join(strings.Fields(rest), "")
	var short time.Duration
	if rest != "" {
		d, err := time.ParseDuration(rest)
		if err != nil {
			return 0, fmt.Errorf("duration: %w", err)
		}
		short = d
	}

	d := long + short
	if negative {
		d = -d
	}
	return d, nil
}

// Format prints d using the largest whole units, so 720h becomes 30d.
// Sub-second values fall back to time.Duration's own formatting.
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	if d < 0 {
		return "-" + Format(-d)
	}
	if d < time.Second || d%time.Second != 0 {
		return d.String()
	}

	var b strings.Builder
	for _, u := range []struct {
		size time.Duration
		name string
	}{
		{Week, "w"}, {Day, "d"}, {time.Hour, "h"}, {time.Minute, "m"}, {time.Second, "s"},
	} {
		if n := d / u.size; n > 0 {
			fmt.Fprintf(&b, "%d%s", n, u.name)
			d -= n * u.size
		}
	}
	return b.String()
}

// DecodeHook converts strings to time.Duration with Parse when decoding
// configuration.
func DecodeHook() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(from, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != durationType {
			return data, nil
		}
		return Parse(data.(string))
	}
}
