package store

import (
	"strconv"

	apperrors "github.com/didac-crst/mockexchange-api/pkg/errors"
)

// Canonical string encoding for numeric hash fields. FormatFloat/ParseFloat
// round-trip exactly; ParseFloat and ParseInt treat an absent field ("") as
// zero so callers can read straight out of HGetAll maps.

// FormatFloat encodes a float for a hash field
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ParseFloat decodes a hash field into a float; empty means zero
func ParseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, apperrors.Fatalf("corrupt numeric field %q", s)
	}
	return v, nil
}

// FormatInt encodes an integer for a hash field
func FormatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

// ParseInt decodes a hash field into an int64; empty means zero
func ParseInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, apperrors.Fatalf("corrupt integer field %q", s)
	}
	return v, nil
}
