package session

import "strings"

// turn is the per-turn state of one connection. It is owned by the session
// loop and never touched from another goroutine.
//
// Invariant: a streaming event is applied only when dropping is false and
// its response id equals responseID. Cancelling sets dropping and clears
// responseID, so events still in flight for the cancelled response are
// filtered here regardless of how fast the upstream honours the cancel.
type turn struct {
	responseID string
	dropping   bool

	// requested counts response.create calls not yet answered by
	// response.created. orphaned counts how many of those belong to
	// cancelled turns and must be cancelled as soon as their id is known.
	requested int
	orphaned  int

	// resume is set when tool outputs were submitted while their response
	// was still streaming; a new response is requested once it is done.
	resume bool

	// epoch increments on every cancel; work started in an older epoch
	// belongs to a cancelled turn.
	epoch int

	text strings.Builder

	lastDoneID   string
	lastDoneText string

	calls map[string]*toolCall
}

type toolCall struct {
	name string
	args strings.Builder
}

func newTurn() *turn {
	return &turn{calls: make(map[string]*toolCall)}
}

// open records an accepted user turn; the response it requests is live.
func (t *turn) open() {
	t.dropping = false
	t.requested++
}

// created adopts id as the live response. It returns false when id belongs
// to a turn cancelled before its id was known; the caller cancels it.
func (t *turn) created(id string) bool {
	if t.requested > 0 {
		t.requested--
	}
	if t.orphaned > 0 {
		t.orphaned--
		return false
	}
	t.responseID = id
	t.dropping = false
	t.resetBuffers()
	return true
}

// rejected accounts for an upstream error answering a response.create.
// Requests are answered in order, so the oldest pending one is dropped and
// orphans go first. It returns false when nothing was pending.
func (t *turn) rejected() bool {
	if t.requested == 0 {
		return false
	}
	t.requested--
	if t.orphaned > 0 {
		t.orphaned--
	}
	return true
}

// live reports whether a streaming event for id may be applied.
func (t *turn) live(id string) bool {
	if t.dropping || t.responseID == "" {
		return false
	}
	return id == "" || id == t.responseID
}

// active reports whether a response is live or requested.
func (t *turn) active() bool {
	return t.responseID != "" || t.requested > t.orphaned
}

// cancel drops the live turn and returns the response id to cancel
// upstream ("" when none is known yet).
func (t *turn) cancel() string {
	id := t.responseID
	if id != "" || t.requested > t.orphaned {
		t.epoch++
	}
	t.orphaned = t.requested
	t.responseID = ""
	t.resume = false
	t.dropping = true
	t.resetBuffers()
	return id
}

// done closes the live turn after response.done. It reports whether tool
// outputs are waiting for a follow-up response.
func (t *turn) done(id string) bool {
	if id != t.responseID {
		return false
	}
	t.responseID = ""
	t.resetBuffers()
	resume := t.resume
	t.resume = false
	return resume
}

// busy reports whether a response is streaming or requested, in which case
// a new response.create would be rejected upstream.
func (t *turn) busy() bool {
	return t.responseID != "" || t.requested > 0
}

// final returns whether text for id should be delivered, recording it so a
// second done event for the same turn is suppressed.
func (t *turn) final(id, text string) bool {
	if id == t.lastDoneID && text == t.lastDoneText {
		return false
	}
	t.lastDoneID, t.lastDoneText = id, text
	t.text.Reset()
	return true
}

func (t *turn) resetBuffers() {
	t.text.Reset()
	clear(t.calls)
}

func (t *turn) call(callID, name string) *toolCall {
	c, ok := t.calls[callID]
	if !ok {
		c = &toolCall{}
		t.calls[callID] = c
	}
	if name != "" {
		c.name = name
	}
	return c
}

// takeCall removes and returns the accumulated call.
func (t *turn) takeCall(callID string) (*toolCall, bool) {
	c, ok := t.calls[callID]
	if ok {
		delete(t.calls, callID)
	}
	return c, ok
}
