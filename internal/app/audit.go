package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"prionotify/internal/eventbus"
	"prionotify/internal/storage"
	logx "prionotify/pkg/logx"
)

// Filter and dedup events fire for ordinary chatter, so they only reach the debug log.
var auditedEvents = map[string]bool{
	eventbus.AlertDelivered: true,
	eventbus.AlertFailed:    true,
	eventbus.AlertSnoozed:   true,
	eventbus.SnoozeFlushed:  true,
}

func eventAudit(e eventbus.Event) (storage.AuditEntry, bool) {
	if !auditedEvents[e.Type] {
		return storage.AuditEntry{}, false
	}
	entry := storage.AuditEntry{
		ID:     uuid.NewString(),
		At:     e.Time,
		Kind:   "alert",
		Action: e.Type,
	}
	switch d := e.Data.(type) {
	case eventbus.AlertEvent:
		entry.ActorID = d.SenderID
		entry.ChatID = d.ChatID
		entry.MessageID = d.MessageID
		entry.Target = d.Category
		entry.OK = d.Error == ""
		entry.Error = d.Error
		if d.JobID != "" {
			entry.Meta = "job=" + d.JobID
		}
		if e.Type == eventbus.AlertSnoozed {
			entry.Meta = fmt.Sprintf("queued=%t", d.Queued)
		}
	case eventbus.FlushEvent:
		entry.Target = d.Reason
		entry.OK = d.Delivered == d.Total
		entry.Meta = fmt.Sprintf("delivered=%d total=%d", d.Delivered, d.Total)
	default:
		return storage.AuditEntry{}, false
	}
	return entry, true
}

// recordEvents drains the bus into the debug log and the audit log until ctx ends.
func recordEvents(ctx context.Context, events <-chan eventbus.Event, st storage.Store, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			entry, ok := eventAudit(e)
			if !ok || st == nil {
				continue
			}
			actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			if err := st.AppendAudit(actx, entry); err != nil {
				log.Warn("audit append failed", logx.String("type", e.Type), logx.Err(err))
			}
			cancel()
		}
	}
}
