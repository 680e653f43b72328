package validation

import (
	"bytes"
	"encoding/binary"
)

// AnomalyDetector scores structural oddities that are not known-bad patterns:
// payload bytes appended after the image terminator, a missing terminator,
// metadata volume far out of proportion to the image. It is probabilistic and
// tunable, which is why its failure kind is distinct from pattern detections —
// the two warrant different user-facing messaging.
type AnomalyDetector struct {
	// Threshold is the minimum confidence in [0,1] for a file to pass.
	Threshold float64
}

// Check scores the buffer and fails when confidence drops below the threshold.
func (d *AnomalyDetector) Check(buf []byte, confirmedType string) error {
	score := d.Score(buf, confirmedType)
	if score < d.Threshold {
		return &Error{
			Kind:     FailureAnomalyScore,
			Message:  "file structure looks unusual and was not accepted",
			Category: "structural-anomaly",
		}
	}
	return nil
}

// Score returns a structural confidence in [0,1]; 1.0 is a clean-looking file.
func (d *AnomalyDetector) Score(buf []byte, confirmedType string) float64 {
	switch confirmedType {
	case TypePNG:
		return scorePNG(buf)
	case TypeJPEG:
		return scoreJPEG(buf)
	default:
		// No structural model for this type; do not penalize.
		return 1.0
	}
}

func scorePNG(buf []byte) float64 {
	end, ok := pngIENDOffset(buf)
	if !ok {
		// Truncated or corrupt: no terminator chunk reachable.
		return 0.3
	}
	return trailingBytesScore(len(buf) - end)
}

// pngIENDOffset walks the chunk stream and returns the offset just past the
// IEND chunk's CRC. A literal "IEND" inside appended payload bytes is not a
// terminator; only the chunk the stream actually reaches counts.
func pngIENDOffset(buf []byte) (int, bool) {
	i := 8 // past signature
	for i+8 <= len(buf) {
		chunkLen := int(binary.BigEndian.Uint32(buf[i : i+4]))
		end := i + 8 + chunkLen + 4
		if chunkLen < 0 || end > len(buf) {
			return 0, false
		}
		if string(buf[i+4:i+8]) == "IEND" {
			return end, true
		}
		i = end
	}
	return 0, false
}

func scoreJPEG(buf []byte) float64 {
	eoi := []byte{0xFF, 0xD9}
	idx := bytes.LastIndex(buf, eoi)
	if idx < 0 {
		return 0.3
	}
	return trailingBytesScore(len(buf) - (idx + 2))
}

// trailingBytesScore penalizes data appended after the format's terminator,
// the classic smuggling spot for polyglot payloads. A handful of padding
// bytes is common in legitimate tooling output; kilobytes are not.
func trailingBytesScore(trailing int) float64 {
	switch {
	case trailing <= 0:
		return 1.0
	case trailing <= 16:
		return 0.95
	case trailing <= 256:
		return 0.8
	case trailing <= 4096:
		return 0.6
	default:
		return 0.2
	}
}
