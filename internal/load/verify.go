package load

import (
	"context"
	"math/rand"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// verifyKeys re-queries natural keys just written and returns the fraction
// found. It runs after commit, so a shortfall is a data-quality warning for
// monitoring, never a load failure. Large batches are sampled.
func (l *Loader) verifyKeys(ctx context.Context, table, column string, keys []string) float64 {
	distinct := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			distinct = append(distinct, k)
		}
	}
	if len(distinct) == 0 {
		return 1
	}

	sample := distinct
	if len(sample) > l.verifySample {
		sample = sampleKeys(distinct, l.verifySample)
	}

	var found atomic.Int64
	g, gCtx := errgroup.WithContext(ctx)
	for _, chunk := range chunks(sample, 100) {
		chunk := chunk
		g.Go(func() error {
			var n int
			err := l.store.QueryRow(gCtx,
				`SELECT COUNT(DISTINCT `+column+`) FROM `+table+` WHERE `+column+` = ANY($1)`,
				chunk,
			).Scan(&n)
			if err != nil {
				return err
			}
			found.Add(int64(n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		l.log.Warn("post-load verification query failed", "table", table, "error", err)
		return 0
	}

	rate := float64(found.Load()) / float64(len(sample))
	if rate < 1 {
		l.log.Warn("post-load verification shortfall",
			"table", table, "expected", len(sample), "found", found.Load())
	}
	return rate
}

func sampleKeys(keys []string, n int) []string {
	idx := rand.Perm(len(keys))[:n]
	out := make([]string, n)
	for i, j := range idx {
		out[i] = keys[j]
	}
	return out
}
