package stt

import (
	"encoding/json"
	"fmt"
)

type rawResult struct {
	Text         *string       `json:"text"`
	Alternatives []Alternative `json:"alternatives"`
}

// DecodeCompleteResult parses a final result document: {"text": ...} or
// {"alternatives": [...]}.
func DecodeCompleteResult(data []byte) (CompleteResult, error) {
	var raw rawResult
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if raw.Alternatives != nil {
		return MultipleResult{Alternatives: raw.Alternatives}, nil
	}
	if raw.Text != nil {
		return SingleResult{Text: *raw.Text}, nil
	}
	return SingleResult{}, nil
}

func DecodePartialResult(data []byte) (PartialResult, error) {
	var p PartialResult
	if err := json.Unmarshal(data, &p); err != nil {
		return PartialResult{}, fmt.Errorf("decode partial result: %w", err)
	}
	return p, nil
}
