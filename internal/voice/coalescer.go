package voice

import "time"

const (
	// DefaultCoalesceBytes flushes once this much audio is buffered.
	DefaultCoalesceBytes = 2048
	// DefaultCoalesceInterval is the flush ticker period.
	DefaultCoalesceInterval = 40 * time.Millisecond
)

// Coalescer batches small media frames into larger recognizer messages.
// A flush happens when the buffer reaches Threshold bytes, or on a tick when
// the buffer is non-empty and at least Interval passed since the last flush.
type Coalescer struct {
	Threshold int
	Interval  time.Duration
}

// Run consumes in until it is closed, flushes what remains, and closes out.
func (c Coalescer) Run(in <-chan Chunk, out chan<- Chunk) {
	defer close(out)

	threshold := c.Threshold
	if threshold <= 0 {
		threshold = DefaultCoalesceBytes
	}
	interval := c.Interval
	if interval <= 0 {
		interval = DefaultCoalesceInterval
	}

	buf := make([]byte, 0, threshold)
	lastFlush := time.Now()
	flush := func() {
		if len(buf) == 0 {
			return
		}
		out <- Chunk(buf)
		buf = make([]byte, 0, threshold)
		lastFlush = time.Now()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case chunk, ok := <-in:
			if !ok {
				flush()
				return
			}
			buf = append(buf, chunk...)
			if len(buf) >= threshold {
				flush()
			}
		case <-ticker.C:
			if len(buf) > 0 && time.Since(lastFlush) >= interval {
				flush()
			}
		}
	}
}
