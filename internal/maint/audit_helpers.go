package maint

import (
	"time"

	"github.com/veeragoni/hpc-maintenance/internal/audit"
)

// auditRecord builds an audit.Record stamped with the current time,
// the common shape every phase driver in this package appends.
func auditRecord(phase, action, host string, fields map[string]interface{}) audit.Record {
	return audit.Record{
		Timestamp: time.Now(),
		Phase:     phase,
		Action:    action,
		Host:      host,
		Fields:    fields,
	}
}

// appendAudit writes rec to sink and, on failure, increments m's
// audit-write-failure counter. m may be nil.
func appendAudit(sink audit.Sink, m *Metrics, rec audit.Record) {
	if err := sink.Append(rec); err != nil {
		m.observeAuditWriteFail()
	}
}

// dryRunFields merges a "dry_run": true marker into fields when
// dryRun is set, matching the spec's dry-run audit convention of
// marking entries rather than omitting them.
func dryRunFields(dryRun bool, fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	if dryRun {
		fields["dry_run"] = true
	}
	return fields
}
