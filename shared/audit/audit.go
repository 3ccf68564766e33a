// Package audit writes security events to a trail that is independent of the
// response path.
package audit

import (
	"context"
	"time"

	"github.com/examportal/trustcore/shared/domain"
	"github.com/examportal/trustcore/shared/logger"
	"github.com/examportal/trustcore/shared/middleware/metrics"
	"github.com/google/uuid"
)

type Sink interface {
	InsertAuditEvent(ctx context.Context, e domain.AuditEvent) error
}

type Recorder struct {
	sink    Sink
	timeout time.Duration
	now     func() time.Time
}

func NewRecorder(sink Sink) *Recorder {
	return &Recorder{sink: sink, timeout: 5 * time.Second, now: time.Now}
}

// Record persists e. The write is detached from ctx cancellation, so an aborted
// request still leaves its trace. Failures are logged and swallowed.
func (r *Recorder) Record(ctx context.Context, e domain.AuditEvent) {
	if e.Id == "" {
		e.Id = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}

	metrics.SecurityEvent(string(e.Kind))
	logger.Log.Warn("security event",
		"component", "audit",
		"kind", e.Kind,
		"user_id", e.UserId,
		"ip", e.IP,
		"session", e.SessionRef,
		"detail", e.Detail)

	if r.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.sink.InsertAuditEvent(ctx, e); err != nil {
		logger.Log.Error("failed to write audit event",
			"component", "audit",
			"kind", e.Kind,
			"error", err)
	}
}
