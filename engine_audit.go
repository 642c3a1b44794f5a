package rentAuth

import (
	"context"

	internalaudit "github.com/MrEthical07/rentAuth/internal/audit"
)

// emitAudit hands an event to the dispatcher. metadataBuilder only runs
// when auditing is enabled.
func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subjectID string,
	familyID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := internalaudit.Event{
		Timestamp: e.clock.Now().UTC(),
		EventType: eventType,
		SubjectID: subjectID,
		FamilyID:  familyID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if err != nil {
		event.Error = KindOf(err).String()
	}

	e.audit.Emit(ctx, event)
}
