package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/secret-coffee/internal/persistence"
)

// errSkipEffect lets an effect report that there was nothing to do; the
// marker is completed so later ticks skip the target too.
var errSkipEffect = errors.New("application: effect skipped")

// once guards a side effect with an idempotency marker. The marker is
// claimed before the effect runs, released when the effect fails so the next
// tick retries, and completed on success. It reports whether the effect ran.
func once(ctx context.Context, runs persistence.JobRunRepository, now func() time.Time, job, key string, effect func() error) (bool, error) {
	claimed, err := runs.ClaimJobRun(ctx, key, job, now())
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	if !claimed {
		return false, nil
	}

	if err := effect(); err != nil {
		if errors.Is(err, errSkipEffect) {
			if cerr := runs.CompleteJobRun(ctx, key, now()); cerr != nil {
				return false, fmt.Errorf("complete %s: %w", key, cerr)
			}
			return false, nil
		}
		if rerr := runs.ReleaseJobRun(ctx, key); rerr != nil {
			return false, errors.Join(err, fmt.Errorf("release %s: %w", key, rerr))
		}
		return false, err
	}

	if err := runs.CompleteJobRun(ctx, key, now()); err != nil {
		return true, fmt.Errorf("complete %s: %w", key, err)
	}
	return true, nil
}
