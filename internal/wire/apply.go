// ABOUTME: Applier folds decoded stream events into a transcript message.
// ABOUTME: Records the first finish and ignores everything after it.

package wire

import (
	"fmt"

	"github.com/2389/chat-gateway/internal/transcript"
)

// RemoteError is an error event reported by the server.
type RemoteError struct {
	Text string
}

func (e *RemoteError) Error() string {
	return "remote error: " + e.Text
}

// Applier applies events to one open message in a transcript store.
type Applier struct {
	store     *transcript.Store
	messageID string

	remoteID string
	finished bool
	status   FinishStatus
	steps    int
}

// NewApplier creates an applier that appends to messageID.
func NewApplier(store *transcript.Store, messageID string) *Applier {
	return &Applier{store: store, messageID: messageID}
}

// Apply appends the part carried by ev. An error event is returned as a
// *RemoteError. Events after finish are ignored.
func (a *Applier) Apply(ev Event) error {
	if a.finished {
		return nil
	}

	switch ev.Type {
	case TypeStart:
		a.remoteID = ev.MessageID
		return nil
	case TypeFinish:
		a.finished = true
		a.status = ev.Status
		a.steps = ev.Steps
		return nil
	case TypeError:
		return &RemoteError{Text: ev.ErrorText}
	}

	part, ok := ev.Part()
	if !ok {
		return nil
	}
	if err := a.store.AppendPart(a.messageID, part); err != nil {
		return fmt.Errorf("apply %s: %w", ev.Type, err)
	}
	return nil
}

// Finished reports whether a finish event was applied.
func (a *Applier) Finished() bool { return a.finished }

// Status returns the finish status, empty before finish.
func (a *Applier) Status() FinishStatus { return a.status }

// Steps returns the step count reported by finish.
func (a *Applier) Steps() int { return a.steps }

// RemoteMessageID returns the server's message ID from the start event.
func (a *Applier) RemoteMessageID() string { return a.remoteID }
