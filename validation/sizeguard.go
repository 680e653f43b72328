package validation

import (
	"fmt"
	"io"
)

// readChunkSize is the unit in which request bodies are pulled in. Small
// enough that an oversized body is caught within one chunk of the ceiling.
const readChunkSize = 32 * 1024

// CheckDeclaredSize is the header check: if the client declared a
// content-length and it already exceeds the limit, reject before reading a
// single body byte. A missing or zero declared length passes; the streaming
// check still applies to it.
func CheckDeclaredSize(declared, limit int64) error {
	if declared > 0 && declared > limit {
		return newError(FailureSizeExceededHeader,
			fmt.Sprintf("file exceeds the %s limit", humanSize(limit)))
	}
	return nil
}

// StreamGuard enforces the byte ceiling while the body streams in. The header
// check alone is not enough: the declared length can be absent, wrong, or
// deliberately understated.
type StreamGuard struct {
	Limit int64
	total int64
}

// Add accounts for one received chunk. It fails the instant the running total
// passes the limit; a total exactly at the limit is allowed.
func (g *StreamGuard) Add(n int64) error {
	g.total += n
	if g.total > g.Limit {
		return newError(FailureSizeExceededStream,
			fmt.Sprintf("file exceeds the %s limit", humanSize(g.Limit)))
	}
	return nil
}

// Total returns the bytes accounted so far.
func (g *StreamGuard) Total() int64 { return g.total }

// ReadLimited streams r into a buffer under the guard. On a size failure the
// partial buffer is discarded and never returned; at most limit+1 bytes of an
// oversized body are ever held.
func ReadLimited(r io.Reader, limit int64) ([]byte, int64, error) {
	guard := StreamGuard{Limit: limit}
	buf := make([]byte, 0, minInt64(limit, readChunkSize))
	chunk := make([]byte, readChunkSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			if gerr := guard.Add(int64(n)); gerr != nil {
				return nil, guard.Total(), gerr
			}
			buf = append(buf, chunk[:n]...)
		}
		if err == io.EOF {
			return buf, guard.Total(), nil
		}
		if err != nil {
			return nil, guard.Total(), newError(FailureInternal, "upload could not be read")
		}
	}
}

func humanSize(n int64) string {
	const mb = 1024 * 1024
	if n >= mb && n%mb == 0 {
		return fmt.Sprintf("%dMB", n/mb)
	}
	if n >= 1024 && n%1024 == 0 {
		return fmt.Sprintf("%dKB", n/1024)
	}
	return fmt.Sprintf("%d bytes", n)
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
