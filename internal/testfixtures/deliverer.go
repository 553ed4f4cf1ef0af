package testfixtures

import (
	"context"
	"strings"
	"sync"
)

// Delivery is one message handed to a Recorder.
type Delivery struct {
	Recipient string
	Text      string
	Delivered bool
}

// Recorder is a delivery channel that remembers every message. Recipients
// marked with FailFor are reported as undeliverable.
type Recorder struct {
	mu         sync.Mutex
	deliveries []Delivery
	failing    map[string]bool
}

// NewRecorder returns an empty recorder that delivers to everyone.
func NewRecorder() *Recorder {
	return &Recorder{failing: make(map[string]bool)}
}

// FailFor makes deliveries to recipients fail.
func (r *Recorder) FailFor(recipients ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rc := range recipients {
		r.failing[rc] = true
	}
}

// Recover makes deliveries to every recipient succeed again.
func (r *Recorder) Recover() {
	r.mu.Lock()
	r.failing = make(map[string]bool)
	r.mu.Unlock()
}

func (r *Recorder) Deliver(_ context.Context, recipient, text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ok := !r.failing[recipient]
	r.deliveries = append(r.deliveries, Delivery{Recipient: recipient, Text: text, Delivered: ok})
	return ok
}

// All returns every attempted delivery in order.
func (r *Recorder) All() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.deliveries...)
}

// To returns the delivered texts for recipient.
func (r *Recorder) To(recipient string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, d := range r.deliveries {
		if d.Recipient == recipient && d.Delivered {
			out = append(out, d.Text)
		}
	}
	return out
}

// Containing counts delivered messages whose text contains substr.
func (r *Recorder) Containing(substr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, d := range r.deliveries {
		if d.Delivered && strings.Contains(d.Text, substr) {
			n++
		}
	}
	return n
}

// Reset forgets recorded deliveries.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.deliveries = nil
	r.mu.Unlock()
}
