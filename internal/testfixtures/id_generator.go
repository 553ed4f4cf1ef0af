package testfixtures

import (
	"fmt"
	"sync"
)

// IDGenerator produces deterministic identifiers such as "id-1", "id-2".
type IDGenerator struct {
	mu      sync.Mutex
	prefix  string
	counter uint64
}

// NewIDGenerator returns a generator using prefix, or "id" when empty.
func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &IDGenerator{prefix: prefix}
}

// Next returns the next identifier.
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("%s-%d", g.prefix, g.counter)
}

// NextFunc exposes Next for injection.
func (g *IDGenerator) NextFunc() func() string {
	if g == nil {
		return func() string { return "" }
	}
	return g.Next
}

// Anonymizer issues predictable meeting ids, codes and recognition signs.
// Queued values are returned first, which lets tests force collisions.
type Anonymizer struct {
	mu       sync.Mutex
	meetings int
	codes    int
	signs    int

	queuedMeetingIDs []string
	queuedCodes      []string
}

// NewAnonymizer returns an Anonymizer with empty queues.
func NewAnonymizer() *Anonymizer {
	return &Anonymizer{}
}

// QueueMeetingIDs makes the next calls to NewMeetingID return ids in order.
func (a *Anonymizer) QueueMeetingIDs(ids ...string) {
	a.mu.Lock()
	a.queuedMeetingIDs = append(a.queuedMeetingIDs, ids...)
	a.mu.Unlock()
}

// QueueCodes makes the next calls to NewParticipantCode return codes in order.
func (a *Anonymizer) QueueCodes(codes ...string) {
	a.mu.Lock()
	a.queuedCodes = append(a.queuedCodes, codes...)
	a.mu.Unlock()
}

func (a *Anonymizer) NewMeetingID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.queuedMeetingIDs) > 0 {
		id := a.queuedMeetingIDs[0]
		a.queuedMeetingIDs = a.queuedMeetingIDs[1:]
		return id
	}
	a.meetings++
	return fmt.Sprintf("SC_TEST%04d", a.meetings)
}

func (a *Anonymizer) NewParticipantCode() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.queuedCodes) > 0 {
		code := a.queuedCodes[0]
		a.queuedCodes = a.queuedCodes[1:]
		return code
	}
	a.codes++
	return fmt.Sprintf("QUIET_FOX_%02d", a.codes)
}

func (a *Anonymizer) NewRecognitionSign() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.signs++
	return fmt.Sprintf("sign %d", a.signs)
}
