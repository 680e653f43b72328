package validation

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAnomalyScore_CleanFiles(t *testing.T) {
	d := &AnomalyDetector{Threshold: 0.7}
	require.Equal(t, 1.0, d.Score(buildPNG(nil), TypePNG))
	require.Equal(t, 1.0, d.Score(buildJPEG(), TypeJPEG))
	require.NoError(t, d.Check(buildPNG(nil), TypePNG))
}

func TestAnomalyScore_TrailingPayload(t *testing.T) {
	d := &AnomalyDetector{Threshold: 0.7}

	// Large appended payload after IEND: the classic polyglot layout.
	buf := append(buildPNG(nil), bytes.Repeat([]byte{0x41}, 8192)...)
	require.Less(t, d.Score(buf, TypePNG), 0.7)

	err := d.Check(buf, TypePNG)
	require.Equal(t, FailureAnomalyScore, KindOf(err))
}

func TestAnomalyScore_SmallPaddingTolerated(t *testing.T) {
	d := &AnomalyDetector{Threshold: 0.7}
	buf := append(buildPNG(nil), bytes.Repeat([]byte{0x00}, 8)...)
	require.GreaterOrEqual(t, d.Score(buf, TypePNG), 0.9)
	require.NoError(t, d.Check(buf, TypePNG))
}

func TestAnomalyScore_SpoofedTerminatorInTrailingPayload(t *testing.T) {
	d := &AnomalyDetector{Threshold: 0.7}
	// Appended payload ending in a literal "IEND" must not reset the trailing
	// count; only the chunk the stream reaches is the terminator.
	buf := append(buildPNG(nil), bytes.Repeat([]byte{0x41}, 8192)...)
	buf = append(buf, []byte("IEND")...)
	buf = append(buf, 0x00, 0x00, 0x00, 0x00)
	require.Less(t, d.Score(buf, TypePNG), 0.7)
}

func TestAnomalyScore_MissingTerminator(t *testing.T) {
	d := &AnomalyDetector{Threshold: 0.7}
	buf := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x02}
	require.Less(t, d.Score(buf, TypeJPEG), 0.7)
}

func TestAnomalyScore_UnmodeledTypeNotPenalized(t *testing.T) {
	d := &AnomalyDetector{Threshold: 0.7}
	require.Equal(t, 1.0, d.Score(buildGIF(), TypeGIF))
}
