package workorder

import (
	"strings"

	"github.com/agenda-podcast/Platform-sub001/pkg/tabular"
)

// QueueEntry is one row of the externally-written queue CSV.
type QueueEntry struct {
	TenantID     string
	WorkOrderID  string
	Enabled      bool
	ScheduleCron string
	Title        string
	Notes        string
	Path         string
}

// LoadQueue reads the queue table. Disabled rows are retained; the caller
// filters with Enabled, so audits can still see skipped entries.
func LoadQueue(path string) ([]QueueEntry, error) {
	rows, err := tabular.Read(path)
	if err != nil {
		return nil, err
	}
	entries := make([]QueueEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, QueueEntry{
			TenantID:     strings.TrimSpace(r["tenant_id"]),
			WorkOrderID:  strings.TrimSpace(r["work_order_id"]),
			Enabled:      strings.EqualFold(strings.TrimSpace(r["enabled"]), "true"),
			ScheduleCron: r["schedule_cron"],
			Title:        r["title"],
			Notes:        r["notes"],
			Path:         strings.TrimSpace(r["path"]),
		})
	}
	return entries, nil
}
