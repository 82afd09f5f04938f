package engine

import (
	"encoding/json"
	"fmt"
)

// Word represents one recognized word with timing and confidence, present
// in results when word-level output is enabled on the recognizer.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"` // seconds from utterance start
	End   float64 `json:"end"`   // seconds from utterance start
	Conf  float64 `json:"conf"`  // confidence in [0, 1]
}

// Alternative is one hypothesis in an N-best result, produced when
// SetMaxAlternatives is set above zero.
type Alternative struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"result,omitempty"`
}

// Result is the decoded form of a finalized recognizer result. Exactly one
// of the shapes is populated: Text (plus Words when word timing is on), or
// Alternatives when N-best output is configured.
type Result struct {
	Text         string        `json:"text"`
	Words        []Word        `json:"result,omitempty"`
	Alternatives []Alternative `json:"alternatives,omitempty"`
}

// Partial is the decoded form of an in-progress hypothesis.
type Partial struct {
	Partial string `json:"partial"`
	Words   []Word `json:"partial_result,omitempty"`
}

// ParseResult decodes the JSON text returned by Result or FinalResult.
func ParseResult(data string) (*Result, error) {
	var res Result
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return nil, fmt.Errorf("failed to parse result JSON: %w", err)
	}
	return &res, nil
}

// ParsePartial decodes the JSON text returned by PartialResult.
func ParsePartial(data string) (*Partial, error) {
	var res Partial
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return nil, fmt.Errorf("failed to parse partial result JSON: %w", err)
	}
	return &res, nil
}

// BestText returns the plain transcript of the result regardless of which
// output shape the recognizer was configured for.
func (r *Result) BestText() string {
	if len(r.Alternatives) > 0 {
		return r.Alternatives[0].Text
	}
	return r.Text
}
