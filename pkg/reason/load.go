package reason

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/agenda-podcast/Platform-sub001/pkg/tabular"
)

// LoadCatalog reads reason_catalog.csv and reason_policy.csv from the
// maintenance-state directory. The policy table is keyed by reason code and
// overrides the catalog's refundable flag where present.
func LoadCatalog(dir string) (*Catalog, error) {
	rows, err := tabular.Read(filepath.Join(dir, "reason_catalog.csv"))
	if err != nil {
		return nil, err
	}
	policy, err := tabular.Read(filepath.Join(dir, "reason_policy.csv"))
	if err != nil {
		return nil, err
	}

	refundable := make(map[string]bool, len(policy))
	for _, p := range policy {
		refundable[p["reason_code"]] = parseBool(p["refundable"])
	}

	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		e := Entry{
			Scope:      Scope(strings.ToUpper(r["scope"])),
			ModuleID:   r["module_id"],
			Slug:       r["reason_slug"],
			CategoryID: r["category_id"],
			ReasonID:   r["reason_id"],
			Refundable: parseBool(r["refundable"]),
		}
		if e.Scope != ScopeGlobal && e.Scope != ScopeModule {
			return nil, fmt.Errorf("%w: %q (slug %s)", ErrBadScope, r["scope"], e.Slug)
		}
		code, err := Compose(e.Scope, e.CategoryID, moduleOrGlobal(e), e.ReasonID)
		if err != nil {
			return nil, err
		}
		if v, ok := refundable[string(code)]; ok {
			e.Refundable = v
		}
		entries = append(entries, e)
	}
	return NewCatalog(entries)
}

func moduleOrGlobal(e Entry) string {
	if e.Scope == ScopeGlobal {
		return "000"
	}
	return e.ModuleID
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	}
	return false
}
