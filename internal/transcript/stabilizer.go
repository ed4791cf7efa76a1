// Package transcript reconciles streaming recognition hypotheses into a
// monotonic confirmed prefix plus a transient pending suffix.
package transcript

// PolicyAppendOnly never retracts confirmed text: when a final hypothesis
// revises an already-committed window, the divergent tail is sacrificed and
// only a pure extension is emitted. PolicyCorrective erases back to the
// divergence point and retypes. Append-only is the default because
// corrective backspacing is unsafe over high-latency remote links.
const (
	PolicyAppendOnly = "append_only"
	PolicyCorrective = "corrective"
)

// Hypothesis is one recognizer reading of a window's audio.
type Hypothesis struct {
	Text        string
	WindowIndex int
	Final       bool
}

// Delta is the text increment owed to the keystroke emitter. Erase is the
// number of already-typed runes to remove before typing Text; it is nonzero
// only under the corrective policy.
type Delta struct {
	Text       string
	Erase      int
	Correction bool
}

// Update is the result of reconciling one hypothesis: the confirmed delta to
// emit (possibly empty) and the full pending suffix for display.
type Update struct {
	Delta   Delta
	Pending string
}

// Stabilizer owns the session transcript. Partial hypotheses replace the
// pending suffix wholesale; a final hypothesis commits its window's text to
// the confirmed prefix. A later final for the same window is a revision and
// is resolved by the configured policy.
//
// Not safe for concurrent use; the supervisor drives it from one goroutine.
type Stabilizer struct {
	policy string

	confirmed string
	pending   string

	window          int
	lastFinalWindow int
	lastFinalText   string
}

func NewStabilizer(policy string) *Stabilizer {
	return &Stabilizer{policy: policy, window: -1, lastFinalWindow: -1}
}

// Confirmed returns the session's committed text.
func (s *Stabilizer) Confirmed() string { return s.confirmed }

// Pending returns the transient suffix not yet committed.
func (s *Stabilizer) Pending() string { return s.pending }

// Reset clears all session state. Called on the transition into capture.
func (s *Stabilizer) Reset() {
	s.confirmed = ""
	s.pending = ""
	s.window = -1
	s.lastFinalWindow = -1
	s.lastFinalText = ""
}

// Reconcile folds one hypothesis into the transcript and reports what, if
// anything, the emitter should type. Reconciling the same partial twice in a
// row leaves the pending text unchanged.
func (s *Stabilizer) Reconcile(h Hypothesis) Update {
	if h.WindowIndex > s.window {
		// A new window starts; any pending text from the previous window
		// was never confirmed and is discarded.
		s.window = h.WindowIndex
		s.pending = ""
	}

	if !h.Final {
		// Partials replace the pending suffix wholesale. The longest common
		// prefix with the previous pending is implicit: everything beyond it
		// is the revision.
		s.pending = h.Text
		return Update{Pending: s.pending}
	}

	if h.WindowIndex == s.lastFinalWindow {
		return s.reviseCommitted(h)
	}

	// First final for this window: commit its text verbatim.
	delta := joinSeparator(s.confirmed, h.Text) + h.Text
	if h.Text == "" {
		delta = ""
	}
	s.confirmed += delta
	s.pending = ""
	s.lastFinalWindow = h.WindowIndex
	s.lastFinalText = h.Text
	return Update{Delta: Delta{Text: delta}}
}

// reviseCommitted handles a final hypothesis for a window that was already
// committed. The new text is ground truth; how much of the old tail can be
// unwound depends on the policy.
func (s *Stabilizer) reviseCommitted(h Hypothesis) Update {
	oldRunes := []rune(s.lastFinalText)
	newRunes := []rune(h.Text)
	lcp := commonPrefixLen(oldRunes, newRunes)

	switch {
	case lcp == len(oldRunes) && lcp == len(newRunes):
		// Identical revision, nothing to do.
		return Update{}

	case lcp == len(oldRunes):
		// Pure extension of the committed text.
		delta := string(newRunes[lcp:])
		s.confirmed += delta
		s.lastFinalText = h.Text
		return Update{Delta: Delta{Text: delta}}

	case s.policy == PolicyCorrective:
		erase := len(oldRunes) - lcp
		delta := string(newRunes[lcp:])
		confirmedRunes := []rune(s.confirmed)
		s.confirmed = string(confirmedRunes[:len(confirmedRunes)-erase]) + delta
		s.lastFinalText = h.Text
		return Update{Delta: Delta{Text: delta, Erase: erase, Correction: true}}

	default:
		// Append-only: the stale tail stays on screen; the revision is
		// dropped rather than risking a backspace storm.
		return Update{}
	}
}

// joinSeparator inserts a single space between committed windows unless a
// whitespace boundary already exists.
func joinSeparator(confirmed, next string) string {
	if confirmed == "" || next == "" {
		return ""
	}
	last := confirmed[len(confirmed)-1]
	first := next[0]
	if last == ' ' || last == '\n' || last == '\t' || first == ' ' || first == '\n' || first == '\t' {
		return ""
	}
	return " "
}

func commonPrefixLen(a, b []rune) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
