package matching

import "math/rand/v2"

const (
	crossGroupScore = 2
	avoidPenalty    = -4
)

// FallbackPairs pairs candidates locally. Candidates are visited in a
// shuffled order (when rng is non-nil); each is paired with the remaining
// candidate that scores highest: different group preferred, avoided partners
// penalised, ties resolved by order. An odd-sized input leaves exactly one
// candidate unpaired.
func FallbackPairs(candidates []Candidate, rng *rand.Rand) []Pair {
	remaining := make([]Candidate, len(candidates))
	copy(remaining, candidates)
	if rng != nil {
		rng.Shuffle(len(remaining), func(i, j int) {
			remaining[i], remaining[j] = remaining[j], remaining[i]
		})
	}

	pairs := make([]Pair, 0, len(remaining)/2)
	for len(remaining) >= 2 {
		current := remaining[0]
		rest := remaining[1:]

		best := 0
		bestScore := pairScore(current, rest[0])
		for i := 1; i < len(rest); i++ {
			if score := pairScore(current, rest[i]); score > bestScore {
				best, bestScore = i, score
			}
		}

		pairs = append(pairs, Pair{A: current.ID, B: rest[best].ID})
		remaining = append(rest[:best:best], rest[best+1:]...)
	}
	return pairs
}

func pairScore(a, b Candidate) int {
	score := 0
	if a.Group != "" && b.Group != "" && a.Group != b.Group {
		score += crossGroupScore
	}
	if avoids(a, b.ID) || avoids(b, a.ID) {
		score += avoidPenalty
	}
	return score
}

func avoids(c Candidate, id string) bool {
	for _, avoided := range c.Avoid {
		if avoided == id {
			return true
		}
	}
	return false
}
