package external

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatMinorUnits renders an amount in cents as a two-decimal string
// ("9900" -> "99.00").
func FormatMinorUnits(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// ParseMinorUnits parses a decimal string into cents without going through
// floating point. Digits past the second decimal must be zero.
func ParseMinorUnits(s string) (int64, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if strings.TrimRight(frac[min(len(frac), 2):], "0") != "" {
		return 0, fmt.Errorf("amount %q has sub-cent precision", s)
	}
	frac = (frac + "00")[:2]

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}

	v := w*100 + f
	if neg {
		v = -v
	}
	return v, nil
}
