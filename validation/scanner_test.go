package validation

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScan_CleanImagesPass(t *testing.T) {
	s := &Scanner{}
	require.NoError(t, s.Scan(buildPNG([]byte{0x01, 0x02, 0x03}), TypePNG))
	require.NoError(t, s.Scan(buildJPEG(), TypeJPEG))
	require.NoError(t, s.Scan(buildGIF(), TypeGIF))
}

func TestScan_ScriptTagInContent(t *testing.T) {
	s := &Scanner{}
	buf := buildPNG([]byte("xx<script>alert(1)</script>xx"))
	err := s.Scan(buf, TypePNG)
	require.Equal(t, FailureThreatPatternDetected, KindOf(err))

	verr := err.(*Error)
	require.Equal(t, "script-tag", verr.Category)
	require.NotContains(t, verr.Message, "<script>",
		"user-facing message must not echo the matched content")
}

func TestScan_PatternsAreCaseInsensitive(t *testing.T) {
	s := &Scanner{}
	err := s.Scan(buildPNG([]byte("<ScRiPt>")), TypePNG)
	require.Equal(t, FailureThreatPatternDetected, KindOf(err))
}

func TestScan_JavascriptURIAndPHPTag(t *testing.T) {
	s := &Scanner{}
	err := s.Scan(buildPNG([]byte("href=javascript:alert(1)")), TypePNG)
	require.Equal(t, FailureThreatPatternDetected, KindOf(err))

	err = s.Scan(buildPNG([]byte("<?php system($_GET['c']); ?>")), TypePNG)
	require.Equal(t, FailureThreatPatternDetected, KindOf(err))
}

func TestScan_ScriptInEXIFClassifiesAsMetadata(t *testing.T) {
	s := &Scanner{}
	buf := buildJPEGWithEXIF("<script>alert(1)</script>")
	err := s.Scan(buf, TypeJPEG)
	require.Equal(t, FailureThreatPatternInMetadata, KindOf(err))
	require.Equal(t, "script-tag", err.(*Error).Category)
}

func TestScan_CleanEXIFPasses(t *testing.T) {
	s := &Scanner{}
	buf := buildJPEGWithEXIF("shot on a potato, cropped in a hurry")
	require.NoError(t, s.Scan(buf, TypeJPEG))
}

func TestScan_ScriptInPNGTextChunk(t *testing.T) {
	s := &Scanner{}
	buf := buildPNG(nil, pngTextChunk("Comment", "<script>alert(1)</script>"))
	err := s.Scan(buf, TypePNG)
	require.Equal(t, FailureThreatPatternInMetadata, KindOf(err))
}

func TestScan_CompressedTextChunkIsInflatedBeforeScanning(t *testing.T) {
	s := &Scanner{}
	buf := buildPNG(nil, pngCompressedTextChunk("Comment", "<script>alert(1)</script>"))
	err := s.Scan(buf, TypePNG)
	require.Equal(t, FailureThreatPatternInMetadata, KindOf(err))
	require.Equal(t, "script-tag", err.(*Error).Category)

	clean := buildPNG(nil, pngCompressedTextChunk("Comment", "compressed but harmless"))
	require.NoError(t, s.Scan(clean, TypePNG))
}

func TestScan_CompressedITXtIsInflatedBeforeScanning(t *testing.T) {
	s := &Scanner{}
	buf := buildPNG(nil, pngITXtChunk("Comment", "<script>alert(1)</script>", true))
	err := s.Scan(buf, TypePNG)
	require.Equal(t, FailureThreatPatternInMetadata, KindOf(err))

	buf = buildPNG(nil, pngITXtChunk("Comment", "<script>alert(1)</script>", false))
	err = s.Scan(buf, TypePNG)
	require.Equal(t, FailureThreatPatternInMetadata, KindOf(err))
}

func TestScan_CorruptCompressedTextFailsClosed(t *testing.T) {
	s := &Scanner{}
	// Announces zlib compression but carries garbage instead of a stream.
	data := append([]byte("Comment"), 0, 0)
	data = append(data, 0xDE, 0xAD, 0xBE, 0xEF)
	buf := buildPNG(nil, pngChunk("zTXt", data))
	err := s.Scan(buf, TypePNG)
	require.Equal(t, FailureMetadataParseFailure, KindOf(err))
}

func TestScan_BrokenEXIFFailsClosed(t *testing.T) {
	s := &Scanner{}
	buf := buildJPEGWithEXIF("ok")
	// Corrupt the TIFF byte-order mark inside the EXIF payload: the APP1
	// segment still announces EXIF, but the block will not parse.
	idx := bytes.Index(buf, []byte("II"))
	require.Greater(t, idx, 0)
	buf[idx] = 'X'
	err := s.Scan(buf, TypeJPEG)
	require.Equal(t, FailureMetadataParseFailure, KindOf(err))
}

func TestScan_TruncatedPNGChunkStreamFailsClosed(t *testing.T) {
	s := &Scanner{}
	buf := buildPNG([]byte{0x01, 0x02})
	// Drop IEND and part of the final CRC so the chunk walk runs off the end.
	buf = buf[:len(buf)-14]
	err := s.Scan(buf, TypePNG)
	require.Equal(t, FailureMetadataParseFailure, KindOf(err))
}

func TestScan_WindowBoundsPatternSearch(t *testing.T) {
	s := &Scanner{Window: 64}
	payload := append(bytes.Repeat([]byte{0x00}, 2048), []byte("<script>")...)
	// GIF has no structured metadata walk, so only the bounded pattern
	// window applies; the pattern sits beyond it.
	buf := append(buildGIF(), payload...)
	require.NoError(t, s.Scan(buf, TypeGIF))

	s = &Scanner{}
	err := s.Scan(buf, TypeGIF)
	require.Equal(t, FailureThreatPatternDetected, KindOf(err))
}
