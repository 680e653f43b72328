// Package vision is the client for the downstream chart-analysis collaborator.
// Validation behavior never depends on anything in this package: only content
// the pipeline accepted is ever handed to it, mock or real.
package vision

import "context"

// Verdict is the collaborator's triple for one analyzed chart image.
type Verdict struct {
	Verdict    string  `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Analyzer produces a verdict for a validated chart image.
type Analyzer interface {
	AnalyzeChart(ctx context.Context, imageType string, image []byte) (Verdict, error)
}
