package util

import (
	"fmt"
	"time"
)

// dateLayouts lists the timestamp formats accepted on the command line and
// in configuration, most specific first.
var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseDate parses a date or datetime string in UTC. Accepted layouts are
// "YYYY-MM-DD", "YYYY-MM-DD HH:MM:SS" and the T-separated variant.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q (want YYYY-MM-DD)", s)
}

// ChunkRange splits [startMs, endMs) into consecutive sub-ranges sized
// intervalMs*maxBars milliseconds, so a paginated request for each chunk
// returns at most maxBars rows. The final chunk is clamped to endMs.
func ChunkRange(startMs, endMs, intervalMs int64, maxBars int) [][2]int64 {
	if startMs >= endMs || intervalMs <= 0 || maxBars <= 0 {
		return nil
	}

	chunkDur := intervalMs * int64(maxBars)
	chunks := make([][2]int64, 0, (endMs-startMs)/chunkDur+1)
	for cur := startMs; cur < endMs; cur += chunkDur {
		chunkEnd := cur + chunkDur
		if chunkEnd > endMs {
			chunkEnd = endMs
		}
		chunks = append(chunks, [2]int64{cur, chunkEnd})
	}
	return chunks
}
