package commands

import "fmt"

// SendState is the progress of one message through the send pipeline.
//
//	created -> local_persisted -> remote_confirmed
//	                           \-> failed
//
// A resend resumes a stored message at local_persisted.
type SendState string

const (
	StateCreated         SendState = "created"
	StateLocalPersisted  SendState = "local_persisted"
	StateRemoteConfirmed SendState = "remote_confirmed"
	StateFailed          SendState = "failed"
)

var sendTransitions = map[SendState][]SendState{
	StateCreated:        {StateLocalPersisted},
	StateLocalPersisted: {StateRemoteConfirmed, StateFailed},
}

// CanAdvance checks whether a send may move from one state to another.
func CanAdvance(from, to SendState) error {
	for _, next := range sendTransitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("invalid send transition %s -> %s", from, to)
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s SendState) bool {
	return len(sendTransitions[s]) == 0
}

// sendRun tracks the state of a single send attempt.
type sendRun struct {
	localID string
	state   SendState
}

func newSendRun(localID string) *sendRun {
	return &sendRun{localID: localID, state: StateCreated}
}

// resumeSendRun picks up a message that is already stored locally.
func resumeSendRun(localID string) *sendRun {
	return &sendRun{localID: localID, state: StateLocalPersisted}
}

// advance validates and applies a transition. An invalid transition is a bug
// in the orchestrator, never a runtime condition.
func (r *sendRun) advance(to SendState) error {
	if err := CanAdvance(r.state, to); err != nil {
		return fmt.Errorf("send %s: %w", r.localID, err)
	}
	r.state = to
	return nil
}
