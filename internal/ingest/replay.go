package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// maxLine bounds one envelope in a dump; history sets can be large.
const maxLine = 64 << 20

// ReplayStats summarizes a replay.
type ReplayStats struct {
	Applied  int
	Skipped  int
	Poisoned int
}

// Replay applies a JSON-lines dump of envelopes, one per line, through the
// same path as broker deliveries. Poison lines are counted and logged; blank
// lines are ignored. It stops at the first read error, at the first line
// the filter fails to mark, or when ctx is done.
func (c *Consumer) Replay(ctx context.Context, r io.Reader) (ReplayStats, error) {
	var stats ReplayStats
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLine)

	line := 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		body := bytes.TrimSpace(sc.Bytes())
		if len(body) == 0 {
			continue
		}
		outcome, err := c.apply(ctx, body)
		switch {
		case errors.Is(err, ErrPoison):
			c.logger.Warn("poison line skipped", zap.Int("line", line), zap.Error(err))
			stats.Poisoned++
		case err != nil:
			return stats, fmt.Errorf("line %d: %w", line, err)
		case outcome == Skipped:
			stats.Skipped++
		default:
			stats.Applied++
		}
	}
	if err := sc.Err(); err != nil {
		return stats, fmt.Errorf("read dump: %w", err)
	}
	return stats, nil
}
