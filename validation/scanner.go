package validation

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

// threatPattern is one entry of the known-dangerous pattern table. Category is
// the label recorded in audit events; the matched bytes themselves are never
// surfaced anywhere.
type threatPattern struct {
	category string
	needle   []byte
}

// Patterns are matched case-insensitively against a lowercased view of the
// content. Everything here indicates a polyglot: a file valid as an image and
// as script or markup at the same time.
var threatPatterns = []threatPattern{
	{"script-tag", []byte("<script")},
	{"javascript-uri", []byte("javascript:")},
	{"vbscript-uri", []byte("vbscript:")},
	{"php-open-tag", []byte("<?php")},
	{"html-document", []byte("<!doctype")},
	{"html-document", []byte("<html")},
	{"iframe-tag", []byte("<iframe")},
	{"event-handler", []byte("onerror=")},
	{"event-handler", []byte("onload=")},
	{"script-eval", []byte("eval(")},
	{"elf-header", []byte{0x7F, 0x45, 0x4C, 0x46}},
}

// Scanner inspects file bytes and embedded metadata for injected content.
type Scanner struct {
	// Window bounds how many leading bytes the pattern scan reads; 0 scans
	// the whole buffer. Chart-sized uploads are scanned in full.
	Window int
}

// Scan runs the metadata scan and the whole-buffer pattern scan, failing on
// the first positive. The metadata scan goes first: a pattern sitting inside
// a parsed metadata field classifies as a metadata threat, which the raw
// pattern scan could never distinguish on its own. confirmedType must come
// from signature validation, not from the client.
func (s *Scanner) Scan(buf []byte, confirmedType string) error {
	switch confirmedType {
	case TypeJPEG:
		if err := scanJPEGMetadata(buf); err != nil {
			return err
		}
	case TypePNG:
		if err := scanPNGMetadata(buf); err != nil {
			return err
		}
		// WebP and GIF carry no structured metadata block we parse
		// separately; their comment extensions are plain bytes covered by
		// the pattern scan below.
	}

	window := buf
	if s.Window > 0 && len(buf) > s.Window {
		window = buf[:s.Window]
	}
	if cat := matchThreatPattern(window); cat != "" {
		return &Error{
			Kind:     FailureThreatPatternDetected,
			Message:  "file content failed the security scan",
			Category: cat,
		}
	}
	return nil
}

// matchThreatPattern returns the category of the first pattern found, or "".
func matchThreatPattern(window []byte) string {
	lowered := bytes.ToLower(window)
	for _, p := range threatPatterns {
		if bytes.Contains(lowered, p.needle) {
			return p.category
		}
	}
	return ""
}

// exifMarker is the APP1 payload prefix that announces an EXIF block.
var exifMarker = []byte("Exif\x00\x00")

// scanJPEGMetadata parses EXIF fields when an APP1 EXIF segment is present and
// checks every text field against the pattern table. A present-but-unparsable
// EXIF block fails closed.
func scanJPEGMetadata(buf []byte) error {
	hasEXIF, err := jpegHasEXIFSegment(buf)
	if err != nil {
		return newError(FailureMetadataParseFailure, "image metadata could not be verified")
	}
	if !hasEXIF {
		return nil
	}

	x, err := exif.Decode(bytes.NewReader(buf))
	if err != nil {
		// The file claims to carry EXIF but it will not parse; treating
		// that as safe would let crafted metadata through unscanned.
		return newError(FailureMetadataParseFailure, "image metadata could not be verified")
	}

	walker := &exifFieldWalker{}
	if err := x.Walk(walker); err != nil {
		return newError(FailureMetadataParseFailure, "image metadata could not be verified")
	}
	if walker.category != "" {
		return &Error{
			Kind:     FailureThreatPatternInMetadata,
			Message:  "image metadata failed the security scan",
			Category: walker.category,
		}
	}
	return nil
}

// exifFieldWalker visits every EXIF tag and pattern-checks its text rendering.
type exifFieldWalker struct {
	category string
}

func (w *exifFieldWalker) Walk(name exif.FieldName, tag *tiff.Tag) error {
	if w.category != "" {
		return nil
	}
	// StringVal only succeeds for ASCII-typed tags; for everything else the
	// generic String() rendering still exposes embedded text (UserComment is
	// an UNDEFINED-typed tag and carries payloads exactly this way).
	text, err := tag.StringVal()
	if err != nil {
		text = tag.String()
	}
	if cat := matchThreatPattern([]byte(text)); cat != "" {
		w.category = cat
	}
	return nil
}

// jpegHasEXIFSegment walks JPEG marker segments looking for an APP1 EXIF
// block. Returns an error when the segment structure itself is broken.
func jpegHasEXIFSegment(buf []byte) (bool, error) {
	if len(buf) < 4 {
		return false, nil
	}
	i := 2 // past SOI
	for i+4 <= len(buf) {
		if buf[i] != 0xFF {
			return false, errBrokenSegments
		}
		marker := buf[i+1]
		// Standalone markers without a length payload.
		if marker == 0xD8 || marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7) {
			i += 2
			continue
		}
		// Start of scan: entropy-coded data follows, no more metadata segments.
		if marker == 0xDA || marker == 0xD9 {
			return false, nil
		}
		segLen := int(binary.BigEndian.Uint16(buf[i+2 : i+4]))
		if segLen < 2 || i+2+segLen > len(buf) {
			return false, errBrokenSegments
		}
		if marker == 0xE1 && bytes.HasPrefix(buf[i+4:i+2+segLen], exifMarker) {
			return true, nil
		}
		i += 2 + segLen
	}
	return false, nil
}

var errBrokenSegments = newError(FailureMetadataParseFailure, "image metadata could not be verified")

// scanPNGMetadata walks PNG chunks and pattern-checks the textual metadata
// chunks (tEXt, iTXt, zTXt). Structural corruption in the chunk stream fails
// closed rather than passing unscanned.
func scanPNGMetadata(buf []byte) error {
	const sigLen = 8
	i := sigLen
	for i+8 <= len(buf) {
		chunkLen := int(binary.BigEndian.Uint32(buf[i : i+4]))
		chunkType := string(buf[i+4 : i+8])
		dataStart := i + 8
		dataEnd := dataStart + chunkLen
		if chunkLen < 0 || dataEnd+4 > len(buf) {
			return newError(FailureMetadataParseFailure, "image metadata could not be verified")
		}
		switch chunkType {
		case "tEXt", "iTXt", "zTXt":
			text, err := pngTextPayload(chunkType, buf[dataStart:dataEnd])
			if err != nil {
				return newError(FailureMetadataParseFailure, "image metadata could not be verified")
			}
			if cat := matchThreatPattern(text); cat != "" {
				return &Error{
					Kind:     FailureThreatPatternInMetadata,
					Message:  "image metadata failed the security scan",
					Category: cat,
				}
			}
		case "IEND":
			return nil
		}
		i = dataEnd + 4 // skip CRC
	}
	// Chunk stream ran out without IEND: the signature said PNG but the
	// structure does not hold together.
	return newError(FailureMetadataParseFailure, "image metadata could not be verified")
}

// maxInflatedText caps decompressed metadata text so a crafted chunk cannot
// balloon memory during the scan.
const maxInflatedText = 1 << 20

// pngTextPayload returns the scannable bytes of a textual chunk, inflating
// zlib-compressed zTXt and iTXt text first. A compressed payload that does not
// inflate cleanly is a parse failure, not a pass.
func pngTextPayload(chunkType string, data []byte) ([]byte, error) {
	switch chunkType {
	case "tEXt":
		return data, nil
	case "zTXt":
		nul := bytes.IndexByte(data, 0)
		if nul < 0 || nul+2 > len(data) || data[nul+1] != 0 {
			return nil, errBadTextChunk
		}
		text, err := inflate(data[nul+2:])
		if err != nil {
			return nil, err
		}
		return append(append([]byte{}, data[:nul]...), text...), nil
	case "iTXt":
		nul := bytes.IndexByte(data, 0)
		if nul < 0 || nul+3 > len(data) {
			return nil, errBadTextChunk
		}
		compressed := data[nul+1]
		method := data[nul+2]
		rest := data[nul+3:]
		lang := bytes.IndexByte(rest, 0)
		if lang < 0 {
			return nil, errBadTextChunk
		}
		trans := bytes.IndexByte(rest[lang+1:], 0)
		if trans < 0 {
			return nil, errBadTextChunk
		}
		text := rest[lang+1+trans+1:]
		if compressed == 0 {
			return data, nil
		}
		if method != 0 {
			return nil, errBadTextChunk
		}
		inflated, err := inflate(text)
		if err != nil {
			return nil, err
		}
		return append(append([]byte{}, data[:nul]...), inflated...), nil
	}
	return data, nil
}

var errBadTextChunk = newError(FailureMetadataParseFailure, "image metadata could not be verified")

func inflate(b []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, maxInflatedText))
	if err != nil {
		return nil, err
	}
	return out, nil
}
