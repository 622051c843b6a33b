package conversation

// Status drives input enablement. Only StatusReady accepts a submission.
type Status string

const (
	StatusReady      Status = "ready"
	StatusSubmitting Status = "submitting"
	StatusStreaming  Status = "streaming"
	StatusError      Status = "error"
)

// InFlight reports whether a turn is currently running.
func (s Status) InFlight() bool {
	return s == StatusSubmitting || s == StatusStreaming
}

// State is the conversation state of one session.
type State struct {
	Messages []Message
	Status   Status
	// Err holds the reason of the last transport error while Status is error.
	Err string
}

// Snapshot returns a deep copy that shares nothing with s.
func (s State) Snapshot() State {
	c := State{Status: s.Status, Err: s.Err}
	if s.Messages != nil {
		c.Messages = make([]Message, len(s.Messages))
		for i, m := range s.Messages {
			c.Messages[i] = m.Clone()
		}
	}
	return c
}

// Last returns the last message, or nil when the conversation is empty.
func (s *State) Last() *Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return &s.Messages[len(s.Messages)-1]
}

// Find returns the message with the given id.
func (s *State) Find(id string) *Message {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return &s.Messages[i]
		}
	}
	return nil
}
