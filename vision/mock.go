package vision

import (
	"context"
	"crypto/sha256"
)

// MockAnalyzer stands in when no API credential is configured. Verdicts are
// deterministic per image so repeated uploads of the same chart agree, which
// keeps demo environments coherent.
type MockAnalyzer struct{}

func NewMockAnalyzer() *MockAnalyzer {
	return &MockAnalyzer{}
}

var mockVerdicts = []string{"bullish", "bearish", "neutral"}

func (m *MockAnalyzer) AnalyzeChart(ctx context.Context, imageType string, image []byte) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	sum := sha256.Sum256(image)
	pick := int(sum[0]) % len(mockVerdicts)
	return Verdict{
		Verdict:    mockVerdicts[pick],
		Confidence: 0.5 + float64(sum[1])/512.0, // 0.5..1.0
		Reasoning:  "simulated analysis (no API credential configured)",
	}, nil
}
