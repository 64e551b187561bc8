// Package ident canonicalizes the identifier strings used across the
// orchestrator (tenant, work order, module, step, transaction) and provides
// the UTC timestamp formats shared by the ledger and evidence layers.
//
// Digit-only identifiers exist in two canonical forms:
//   - match form: leading zeros stripped, used for lookups
//   - storage form: zero-padded to a fixed width, used in persisted tables
//
// The pair is applied at well-defined boundaries; everything in between
// works with the match form.
package ident

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrEmptyIdentifier is returned when an identifier is empty after trimming.
	ErrEmptyIdentifier = errors.New("ident: identifier must not be empty")
	// ErrNotNumeric is returned when a storage-form identifier is not digit-only.
	ErrNotNumeric = errors.New("ident: identifier is not digit-only")
	// ErrWidthExceeded is returned when a digit identifier does not fit the storage width.
	ErrWidthExceeded = errors.New("ident: identifier exceeds storage width")
)

// Canonical trims surrounding whitespace and rejects empty identifiers.
func Canonical(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmptyIdentifier
	}
	return s, nil
}

// CanonicalForMatch returns the match form of an identifier. Digit-only
// identifiers have leading zeros stripped ("007" and "7" match the same
// catalog row); everything else is returned trimmed.
func CanonicalForMatch(s string) (string, error) {
	s, err := Canonical(s)
	if err != nil {
		return "", err
	}
	if !isDigits(s) {
		return s, nil
	}
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" {
		return "0", nil
	}
	return trimmed, nil
}

// CanonicalForStorage zero-pads a digit-only identifier to the given width.
func CanonicalForStorage(s string, width int) (string, error) {
	s, err := Canonical(s)
	if err != nil {
		return "", err
	}
	if !isDigits(s) {
		return "", fmt.Errorf("%w: %q", ErrNotNumeric, s)
	}
	m, _ := CanonicalForMatch(s)
	if len(m) > width {
		return "", fmt.Errorf("%w: %q into %d digits", ErrWidthExceeded, s, width)
	}
	return strings.Repeat("0", width-len(m)) + m, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// Stamp formats t as a compact, sortable UTC stamp for file names.
func Stamp(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

// Timestamp formats t as RFC 3339 UTC, the wire format of all ledger tables.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
