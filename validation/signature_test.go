package validation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var allTypes = []string{TypePNG, TypeJPEG, TypeWebP, TypeGIF}

func TestValidateSignature_ConfirmsSupportedTypes(t *testing.T) {
	cases := []struct {
		declared string
		buf      []byte
		want     string
	}{
		{"image/png", buildPNG(nil), TypePNG},
		{"image/jpeg", buildJPEG(), TypeJPEG},
		{"image/jpg", buildJPEG(), TypeJPEG},
		{"image/gif", buildGIF(), TypeGIF},
		{"image/webp", buildWebP(), TypeWebP},
	}
	for _, tc := range cases {
		got, err := ValidateSignature(tc.buf, tc.declared, allTypes)
		require.NoError(t, err, tc.declared)
		require.Equal(t, tc.want, got)
	}
}

func TestValidateSignature_TextRenamedAsPNG(t *testing.T) {
	// A text file with a .png name and image/png MIME must fail on the
	// binary header, no matter what the client declared.
	buf := []byte("this is definitely not a portable network graphic")
	_, err := ValidateSignature(buf, "image/png", allTypes)
	require.Equal(t, FailureSignatureMismatch, KindOf(err))
}

func TestValidateSignature_MismatchNotReclassified(t *testing.T) {
	// A real JPEG declared as PNG is a mismatch, not a silent correction.
	_, err := ValidateSignature(buildJPEG(), "image/png", allTypes)
	require.Equal(t, FailureSignatureMismatch, KindOf(err))
}

func TestValidateSignature_UnsupportedDeclaredType(t *testing.T) {
	_, err := ValidateSignature(buildPNG(nil), "application/pdf", allTypes)
	require.Equal(t, FailureUnsupportedDeclaredType, KindOf(err))

	// Supported format, but not allowed for this upload profile.
	_, err = ValidateSignature(buildGIF(), "image/gif", []string{TypePNG, TypeJPEG})
	require.Equal(t, FailureUnsupportedDeclaredType, KindOf(err))
}

func TestValidateSignature_TooShortIsMalformed(t *testing.T) {
	_, err := ValidateSignature([]byte{0x89, 0x50}, "image/png", allTypes)
	require.Equal(t, FailureMalformedFile, KindOf(err))

	_, err = ValidateSignature(nil, "image/jpeg", allTypes)
	require.Equal(t, FailureMalformedFile, KindOf(err))
}

func TestMaxSignatureLength_BoundsPrefixReads(t *testing.T) {
	require.LessOrEqual(t, MaxSignatureLength(), 16,
		"signature checks must only touch a small fixed prefix")
}

func TestFixturesCoverEverySignaturePrefix(t *testing.T) {
	// Each fixture must be at least as long as the longest signature, so a
	// fixture declared under the wrong type exercises the mismatch branch
	// rather than the too-short one.
	for name, buf := range map[string][]byte{
		"png":  buildPNG(nil),
		"jpeg": buildJPEG(),
		"gif":  buildGIF(),
		"webp": buildWebP(),
	} {
		require.GreaterOrEqual(t, len(buf), MaxSignatureLength(), name)
	}
}
