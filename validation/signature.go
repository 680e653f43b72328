package validation

import "bytes"

// Canonical type names confirmed by signature inspection. These are what the
// rest of the system trusts; the client-declared MIME string is advisory only.
const (
	TypePNG  = "image/png"
	TypeJPEG = "image/jpeg"
	TypeWebP = "image/webp"
	TypeGIF  = "image/gif"
)

// signature describes the fixed leading bytes of a supported format. WebP
// needs two non-contiguous runs (RIFF header, then the WEBP fourcc at offset 8).
type signature struct {
	parts []sigPart
	min   int
}

type sigPart struct {
	offset int
	bytes  []byte
}

var signatures = map[string]signature{
	TypePNG: {
		parts: []sigPart{{0, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}}},
		min:   8,
	},
	TypeJPEG: {
		parts: []sigPart{{0, []byte{0xFF, 0xD8, 0xFF}}},
		min:   3,
	},
	TypeWebP: {
		parts: []sigPart{
			{0, []byte("RIFF")},
			{8, []byte("WEBP")},
		},
		min: 12,
	},
	TypeGIF: {
		// GIF87a and GIF89a share the first four bytes; checking the shared
		// prefix plus the trailing 'a' covers both revisions.
		parts: []sigPart{{0, []byte("GIF8")}, {5, []byte("a")}},
		min:   6,
	},
}

// declaredAliases maps client-supplied MIME spellings onto canonical types.
var declaredAliases = map[string]string{
	"image/png":  TypePNG,
	"image/jpeg": TypeJPEG,
	"image/jpg":  TypeJPEG,
	"image/webp": TypeWebP,
	"image/gif":  TypeGIF,
}

// CanonicalType resolves a declared MIME string to a canonical supported type,
// or "" when the type is not supported at all.
func CanonicalType(declared string) string {
	return declaredAliases[declared]
}

// ValidateSignature confirms that the buffer's leading bytes match the
// declared type's magic-byte signature. A mismatch is a failure, not a
// reclassification: mislabeled files are rejected, never silently fixed.
// allowed restricts the acceptable canonical types for this upload profile.
func ValidateSignature(buf []byte, declaredType string, allowed []string) (string, error) {
	canonical := CanonicalType(declaredType)
	if canonical == "" || !containsString(allowed, canonical) {
		return "", newError(FailureUnsupportedDeclaredType, "file type is not supported")
	}

	sig := signatures[canonical]
	if len(buf) < sig.min {
		return "", newError(FailureMalformedFile, "file is too small to be a valid image")
	}
	for _, part := range sig.parts {
		if !bytes.Equal(buf[part.offset:part.offset+len(part.bytes)], part.bytes) {
			return "", newError(FailureSignatureMismatch, "file content does not match its declared type")
		}
	}
	return canonical, nil
}

// MaxSignatureLength is the longest prefix any signature check reads. The
// validator never touches bytes past this offset.
func MaxSignatureLength() int {
	longest := 0
	for _, sig := range signatures {
		if sig.min > longest {
			longest = sig.min
		}
	}
	return longest
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
