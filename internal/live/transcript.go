package live

import "sync"

// Turn is one contiguous utterance by a single speaker.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Merge folds a transcript fragment into turns. If the last turn has the same
// role the fragment is appended to its text, otherwise a new turn is started.
// The input slice is not modified.
func Merge(turns []Turn, role, fragment string) []Turn {
	out := make([]Turn, len(turns), len(turns)+1)
	copy(out, turns)
	if n := len(out); n > 0 && out[n-1].Role == role {
		out[n-1].Text += fragment
		return out
	}
	return append(out, Turn{Role: role, Text: fragment})
}

// Transcript accumulates the turns of one conversation. It is safe for
// concurrent use.
type Transcript struct {
	mu    sync.Mutex
	turns []Turn
}

// Add merges a fragment and returns a snapshot of the resulting turns.
func (t *Transcript) Add(role, fragment string) []Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turns = Merge(t.turns, role, fragment)
	return t.snapshotLocked()
}

// Turns returns a snapshot of the current turns.
func (t *Transcript) Turns() []Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Reset clears the transcript.
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turns = nil
}

func (t *Transcript) snapshotLocked() []Turn {
	return append([]Turn(nil), t.turns...)
}
