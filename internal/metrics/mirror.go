package metrics

import (
	"context"

	"github.com/Thinkelution/devlution/internal/audit"
)

// AuditMirror counts audit entries as they are recorded.
type AuditMirror struct{}

// Mirror implements audit.Mirror.
func (AuditMirror) Mirror(_ context.Context, e audit.Entry) error {
	AuditEntries.WithLabelValues(e.Actor).Inc()
	return nil
}
