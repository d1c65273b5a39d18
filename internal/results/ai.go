package results

import (
	"bytes"
	"encoding/json"
	"strings"
)

type AIKind string

const (
	AIDecoded     AIKind = "decoded"
	AIRawFallback AIKind = "raw"
)

// AIAnalysis is either a decoded JSON document or, when the backend sent
// something unparseable, the raw text.
type AIAnalysis struct {
	Kind     AIKind          `json:"kind"`
	Analysis json.RawMessage `json:"analysis,omitempty"`
	Text     string          `json:"text,omitempty"`
}

func (a AIAnalysis) IsDecoded() bool { return a.Kind == AIDecoded }

// DecodeAI accepts an object or array, a JSON string holding one, or
// anything else as raw text. It never fails.
func DecodeAI(raw json.RawMessage) AIAnalysis {
	t := bytes.TrimSpace(raw)
	if isDocument(t) {
		return decoded(t)
	}

	var s string
	if err := json.Unmarshal(t, &s); err == nil {
		inner := bytes.TrimSpace([]byte(s))
		if isDocument(inner) {
			return decoded(inner)
		}
		return AIAnalysis{Kind: AIRawFallback, Text: s}
	}
	return AIAnalysis{Kind: AIRawFallback, Text: strings.TrimSpace(string(raw))}
}

func isDocument(b []byte) bool {
	if len(b) == 0 || (b[0] != '{' && b[0] != '[') {
		return false
	}
	return json.Valid(b)
}

func decoded(b []byte) AIAnalysis {
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return AIAnalysis{Kind: AIRawFallback, Text: string(b)}
	}
	return AIAnalysis{Kind: AIDecoded, Analysis: buf.Bytes()}
}
