// Package matching partitions a cohort's candidates into pairs. The Adapter
// asks a remote matching service first, caches the outcome by candidate-set
// identity, and falls back to a local greedy pairing whenever the remote
// side is unavailable or returns nothing usable.
package matching
