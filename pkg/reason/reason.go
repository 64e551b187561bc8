// Package reason maps outcome slugs to the 9-digit composite reason codes
// recorded on ledger transactions, and carries the refundability policy
// attached to each code. The catalog is compiled by maintenance tooling and
// immutable at run time.
//
// Wire format: GCCMMMRRR. G is the scope digit (0 global, 1 module), CC category
// 01-99, MMM module 000 (global) or 001-999, RRR reason 001-999.
package reason

import (
	"errors"
	"fmt"

	"github.com/agenda-podcast/Platform-sub001/pkg/ident"
)

// Scope selects between platform-wide and module-specific reasons.
type Scope string

const (
	ScopeGlobal Scope = "GLOBAL"
	ScopeModule Scope = "MODULE"
)

// Slugs the engine itself classifies with; modules contribute their own.
const (
	SlugSecretsMissing   = "secrets_missing"
	SlugNotEnoughCredits = "not_enough_credits"
	SlugCancelled        = "cancelled"
	SlugTimeout          = "timeout"
	SlugBindingError     = "binding_error"
	SlugValidationError  = "validation_error"
)

var (
	// ErrUnknownReason is returned when a slug has no catalog entry.
	ErrUnknownReason = errors.New("reason: unknown reason slug")
	// ErrUnknownCode is returned when a code has no catalog entry.
	ErrUnknownCode = errors.New("reason: unknown reason code")
	// ErrBadCode is returned for codes that do not match the wire format.
	ErrBadCode = errors.New("reason: malformed reason code")
	// ErrBadScope is returned for scopes outside {GLOBAL, MODULE}.
	ErrBadScope = errors.New("reason: scope must be GLOBAL or MODULE")
)

// Code is a 9-digit composite reason code.
type Code string

// Compose builds a Code from its parts. Scope GLOBAL forces moduleID "000".
func Compose(scope Scope, categoryID, moduleID, reasonID string) (Code, error) {
	var g string
	switch scope {
	case ScopeGlobal:
		g = "0"
		moduleID = "000"
	case ScopeModule:
		g = "1"
	default:
		return "", fmt.Errorf("%w: %q", ErrBadScope, scope)
	}

	cc, err := ident.CanonicalForStorage(categoryID, 2)
	if err != nil {
		return "", fmt.Errorf("reason: category %q: %w", categoryID, err)
	}
	mmm, err := ident.CanonicalForStorage(moduleID, 3)
	if err != nil {
		return "", fmt.Errorf("reason: module %q: %w", moduleID, err)
	}
	rrr, err := ident.CanonicalForStorage(reasonID, 3)
	if err != nil {
		return "", fmt.Errorf("reason: reason %q: %w", reasonID, err)
	}
	return Code(g + cc + mmm + rrr), nil
}

// Parse splits a Code back into scope, category, module, and reason parts.
func Parse(c Code) (scope Scope, categoryID, moduleID, reasonID string, err error) {
	s := string(c)
	if len(s) != 9 {
		return "", "", "", "", fmt.Errorf("%w: %q", ErrBadCode, c)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", "", "", "", fmt.Errorf("%w: %q", ErrBadCode, c)
		}
	}
	switch s[0] {
	case '0':
		scope = ScopeGlobal
	case '1':
		scope = ScopeModule
	default:
		return "", "", "", "", fmt.Errorf("%w: %q", ErrBadCode, c)
	}
	return scope, s[1:3], s[3:6], s[6:9], nil
}

// Entry is one compiled catalog row.
type Entry struct {
	Scope      Scope
	ModuleID   string // match form; "0" for global entries
	Slug       string
	CategoryID string
	ReasonID   string
	Refundable bool
}

// Catalog resolves (scope, module, slug) to codes and codes to policy.
type Catalog struct {
	bySlug map[string]Entry
	byCode map[Code]Entry
}

// NewCatalog compiles entries into a catalog. Later duplicates win, which
// lets a module-scoped policy table override the shipped defaults.
func NewCatalog(entries []Entry) (*Catalog, error) {
	c := &Catalog{
		bySlug: make(map[string]Entry, len(entries)),
		byCode: make(map[Code]Entry, len(entries)),
	}
	for _, e := range entries {
		code, err := c.codeOf(e)
		if err != nil {
			return nil, err
		}
		c.bySlug[slugKey(e.Scope, e.ModuleID, e.Slug)] = e
		c.byCode[code] = e
	}
	return c, nil
}

func (c *Catalog) codeOf(e Entry) (Code, error) {
	moduleID := e.ModuleID
	if e.Scope == ScopeGlobal {
		moduleID = "000"
	}
	return Compose(e.Scope, e.CategoryID, moduleID, e.ReasonID)
}

func slugKey(scope Scope, moduleID, slug string) string {
	if scope == ScopeGlobal {
		moduleID = "0"
	} else {
		moduleID, _ = ident.CanonicalForMatch(moduleID)
	}
	return string(scope) + "\x00" + moduleID + "\x00" + slug
}

// CodeFor resolves a slug to its composite code.
func (c *Catalog) CodeFor(scope Scope, moduleID, slug string) (Code, error) {
	e, ok := c.bySlug[slugKey(scope, moduleID, slug)]
	if !ok {
		return "", fmt.Errorf("%w: scope=%s module=%s slug=%s", ErrUnknownReason, scope, moduleID, slug)
	}
	return c.codeOf(e)
}

// Refundable reports the refund policy attached to a code.
func (c *Catalog) Refundable(code Code) (bool, error) {
	e, ok := c.byCode[code]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownCode, code)
	}
	return e.Refundable, nil
}

// Lookup returns the full entry for a code.
func (c *Catalog) Lookup(code Code) (Entry, error) {
	e, ok := c.byCode[code]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownCode, code)
	}
	return e, nil
}
