// Package anonymize issues meeting identifiers, participant pseudonyms and
// recognition signs drawn from fixed alphabets and word lists. Values carry no
// information about the people they are issued to. Uniqueness is enforced by
// the store, not here.
package anonymize

import (
	crand "crypto/rand"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
)

// MeetingIDPrefix starts every meeting identifier.
const MeetingIDPrefix = "SC_"

const (
	meetingIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	meetingIDLength   = 8
)

var adjectives = []string{
	"RED", "BLUE", "GREEN", "CHEERFUL", "MYSTERIOUS", "HAPPY",
	"QUIET", "BRAVE", "SILVER", "GOLDEN", "CURIOUS", "GENTLE",
}

var nouns = []string{
	"ELEPHANT", "TIGER", "CAT", "DRAGON", "UNICORN", "PHOENIX",
	"OWL", "FOX", "OTTER", "FALCON", "PANDA", "WHALE",
}

var recognitionSigns = []string{
	"a red rose on the table",
	"a copy of '1984'",
	"a blue umbrella",
	"a yellow scarf",
	"a green teapot",
	"a paper crane next to the cup",
	"a striped notebook",
	"a cup with a lemon slice",
}

// Generator draws anonymous values from a seeded ChaCha8 stream.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator returns a generator seeded from crypto/rand.
func NewGenerator() *Generator {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		panic(fmt.Sprintf("anonymize: seed generator: %v", err))
	}
	return NewGeneratorWithSource(rand.NewChaCha8(seed))
}

// NewGeneratorWithSource returns a generator over src, for deterministic tests.
func NewGeneratorWithSource(src rand.Source) *Generator {
	return &Generator{rng: rand.New(src)}
}

// NewMeetingID returns "SC_" followed by eight characters from [A-Z0-9].
func (g *Generator) NewMeetingID() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var b strings.Builder
	b.Grow(len(MeetingIDPrefix) + meetingIDLength)
	b.WriteString(MeetingIDPrefix)
	for i := 0; i < meetingIDLength; i++ {
		b.WriteByte(meetingIDAlphabet[g.rng.IntN(len(meetingIDAlphabet))])
	}
	return b.String()
}

// NewParticipantCode returns a pseudonym such as "SILVER_OTTER_07".
func (g *Generator) NewParticipantCode() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	return fmt.Sprintf("%s_%s_%02d",
		adjectives[g.rng.IntN(len(adjectives))],
		nouns[g.rng.IntN(len(nouns))],
		g.rng.IntN(100),
	)
}

// NewRecognitionSign returns a phrase the partners use to find each other.
func (g *Generator) NewRecognitionSign() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	return recognitionSigns[g.rng.IntN(len(recognitionSigns))]
}
