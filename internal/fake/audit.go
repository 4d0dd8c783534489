package fake

import (
	"context"
	"sync"
	"time"

	"github.com/kiranshivaraju/ocrbatch/internal/audit"
)

// Audit satisfies audit.Log.
type Audit struct {
	mu     sync.Mutex
	events []audit.Event
	Err    error
}

func NewAudit() *Audit { return &Audit{} }

func (a *Audit) Append(_ context.Context, actor, action, subjectID string, payload map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Err != nil {
		return a.Err
	}
	a.events = append(a.events, audit.Event{
		SubjectID: subjectID,
		Actor:     actor,
		Action:    action,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

func (a *Audit) List(_ context.Context, subjectID string) ([]audit.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Err != nil {
		return nil, a.Err
	}
	var out []audit.Event
	for _, ev := range a.events {
		if ev.SubjectID == subjectID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Events returns a snapshot of every appended event.
func (a *Audit) Events() []audit.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]audit.Event(nil), a.events...)
}

var _ audit.Log = (*Audit)(nil)
