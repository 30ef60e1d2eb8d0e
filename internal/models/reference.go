package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ReferencePrefix starts every booking reference.
const ReferencePrefix = "SB"

var ErrMalformedReference = errors.New("malformed booking reference")

// FormatReference derives the public reference, e.g. SB-2026-000041.
func FormatReference(id int64, year int) string {
	return fmt.Sprintf("%s-%04d-%06d", ReferencePrefix, year, id)
}

// ParseReference extracts the booking id from a reference produced by FormatReference.
// Only exactly three hyphen-separated segments with the SB prefix are accepted.
func ParseReference(ref string) (int64, error) {
	parts := strings.Split(ref, "-")
	if len(parts) != 3 || parts[0] != ReferencePrefix {
		return 0, ErrMalformedReference
	}
	if len(parts[1]) != 4 || !allDigits(parts[1]) {
		return 0, fmt.Errorf("%w: bad year segment %q", ErrMalformedReference, parts[1])
	}
	if len(parts[2]) < 6 || !allDigits(parts[2]) {
		return 0, fmt.Errorf("%w: bad id segment %q", ErrMalformedReference, parts[2])
	}

	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad id segment %q", ErrMalformedReference, parts[2])
	}
	return id, nil
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
