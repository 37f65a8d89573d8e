package service

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/kelly-nie213/rallycoachAIDemo/constant"
)

// ErrNoCompletionSignal is returned when the engine output carries
// neither the result marker block nor the success token; the engine
// did not signal completion and the job must fail.
var ErrNoCompletionSignal = errors.New("engine output has no completion signal")

const (
	defaultSummary  = "Analysis complete"
	degradedSummary = "Analysis completed without structured results"
)

// Extraction is the structured outcome of one engine run.
type Extraction struct {
	Analysis      string
	AnnotatedPath string
	Summary       string
	// Degraded marks a run whose result block was missing or
	// unparseable even though the engine signalled completion; the job
	// still completes, with fallback fields.
	Degraded bool
	// ParseErr holds the JSON error behind a degraded extraction, for
	// logging only.
	ParseErr error
}

// inferenceResult mirrors the engine's result block. Only the fields
// the pipeline stores are decoded; everything else is ignored.
type inferenceResult struct {
	Analysis json.RawMessage `json:"analysis"`
	Video    struct {
		Annotated string `json:"annotated"`
	} `json:"video"`
}

// ExtractResult parses captured engine stdout. The engine prints one
// JSON document between the two sentinel markers; without the markers
// it must at least print the success token. Malformed JSON between the
// markers degrades the result instead of failing the job.
func ExtractResult(output, sourcePath string) (*Extraction, error) {
	block, ok := markerBlock(output)
	if !ok {
		if !strings.Contains(output, constant.InferenceSuccessToken) {
			return nil, ErrNoCompletionSignal
		}
		return &Extraction{
			Analysis:      constant.EmptyAnalysis,
			AnnotatedPath: sourcePath,
			Summary:       degradedSummary,
			Degraded:      true,
		}, nil
	}

	var result inferenceResult
	if err := json.Unmarshal([]byte(block), &result); err != nil {
		return &Extraction{
			Analysis:      constant.EmptyAnalysis,
			AnnotatedPath: sourcePath,
			Summary:       degradedSummary,
			Degraded:      true,
			ParseErr:      err,
		}, nil
	}

	extraction := &Extraction{
		Analysis:      constant.EmptyAnalysis,
		AnnotatedPath: sourcePath,
		Summary:       defaultSummary,
	}
	if len(result.Analysis) > 0 && string(result.Analysis) != "null" {
		extraction.Analysis = string(result.Analysis)
		if s := analysisSummary(result.Analysis); s != "" {
			extraction.Summary = s
		}
	}
	if result.Video.Annotated != "" {
		extraction.AnnotatedPath = result.Video.Annotated
	}
	return extraction, nil
}

func markerBlock(output string) (string, bool) {
	start := strings.Index(output, constant.InferenceResultStartMarker)
	if start < 0 {
		return "", false
	}
	rest := output[start+len(constant.InferenceResultStartMarker):]
	end := strings.Index(rest, constant.InferenceResultEndMarker)
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// analysisSummary pulls the coaching summary out of the analysis
// document (dna.summary in the engine's output shape), if present.
func analysisSummary(analysis json.RawMessage) string {
	var doc struct {
		DNA struct {
			Summary string `json:"summary"`
		} `json:"dna"`
	}
	if err := json.Unmarshal(analysis, &doc); err != nil {
		return ""
	}
	return strings.TrimSpace(doc.DNA.Summary)
}
