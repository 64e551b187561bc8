package pricebook

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/agenda-podcast/Platform-sub001/pkg/tabular"
)

// LoadTable reads one price table CSV. Expected columns: module_id,
// deliverable_id, credits, effective_from, effective_to, active.
// Empty effective bounds are open; timestamps are RFC 3339.
func LoadTable(path string) ([]Row, error) {
	records, err := tabular.Read(path)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(records))
	for i, rec := range records {
		credits, err := strconv.ParseInt(strings.TrimSpace(rec["credits"]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("pricebook: %s row %d: credits %q: %w", path, i+1, rec["credits"], err)
		}
		from, err := parseBound(rec["effective_from"])
		if err != nil {
			return nil, fmt.Errorf("pricebook: %s row %d: effective_from: %w", path, i+1, err)
		}
		to, err := parseBound(rec["effective_to"])
		if err != nil {
			return nil, fmt.Errorf("pricebook: %s row %d: effective_to: %w", path, i+1, err)
		}
		rows = append(rows, Row{
			ModuleID:      rec["module_id"],
			DeliverableID: rec["deliverable_id"],
			Credits:       credits,
			EffectiveFrom: from,
			EffectiveTo:   to,
			Active:        strings.EqualFold(strings.TrimSpace(rec["active"]), "true"),
		})
	}
	return rows, nil
}

// Load builds a Book from the tenant-directory table and the repo fallback.
func Load(primaryPath, fallbackPath string) (*Book, error) {
	primary, err := LoadTable(primaryPath)
	if err != nil {
		return nil, err
	}
	fallback, err := LoadTable(fallbackPath)
	if err != nil {
		return nil, err
	}
	return New(primary, fallback), nil
}

func parseBound(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
