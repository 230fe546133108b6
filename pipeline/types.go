package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Query is one inbound question. Immutable for the duration of a request.
type Query struct {
	UserID   string `json:"user_id"`
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"`
}

// RetrievedPassage is a retrievable unit of source text with its positional
// metadata. Instances are owned by the retrieval backend and treated as
// read-only by the pipeline.
type RetrievedPassage struct {
	ID            string
	Doc           string
	Sheet         string
	Row           int
	OriginColumns string
	ChunkID       int
	Text          string
	Followups     FollowupField
}

// Source renders the passage identity in the canonical source-string format.
func (p RetrievedPassage) Source() string {
	return fmt.Sprintf("%s | %s | row:%d | chunk:%d", p.Doc, p.Sheet, p.Row, p.ChunkID)
}

// ScoredPassage pairs a passage with its retrieval similarity score.
// Scores arrive rank-sorted descending, computed as 1/(1+distance).
type ScoredPassage struct {
	Passage RetrievedPassage
	Score   float64
}

// FollowupCandidate is a ranked follow-up question derived from passage
// metadata. Produced transiently per request.
type FollowupCandidate struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// ChatResponse is the unit returned to callers and stored in the cache.
type ChatResponse struct {
	Answer     *string             `json:"answer"`
	Confidence float64             `json:"confidence"`
	Sources    []string            `json:"sources"`
	Cached     bool                `json:"cached"`
	FollowUp   *string             `json:"follow_up"`
	Followups  []FollowupCandidate `json:"followups"`
	Redacted   bool                `json:"redacted"`
}

// Clone returns a deep copy so cached responses can never be mutated by a
// later request.
func (r ChatResponse) Clone() ChatResponse {
	out := r
	if r.Answer != nil {
		answer := *r.Answer
		out.Answer = &answer
	}
	if r.FollowUp != nil {
		followUp := *r.FollowUp
		out.FollowUp = &followUp
	}
	if r.Sources != nil {
		out.Sources = make([]string, len(r.Sources))
		copy(out.Sources, r.Sources)
	}
	if r.Followups != nil {
		out.Followups = make([]FollowupCandidate, len(r.Followups))
		copy(out.Followups, r.Followups)
	}
	return out
}

// FollowupField normalizes the followups column, which upstream stores in
// three shapes: a bare string, a JSON array of strings, or nothing at all.
// Whatever arrives, the rest of the pipeline only ever sees []string.
type FollowupField struct {
	values []string
}

// NewFollowupField builds a field from already-normalized values.
func NewFollowupField(values ...string) FollowupField {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return FollowupField{values: out}
}

// Values returns the normalized follow-up strings; empty when absent.
func (f FollowupField) Values() []string {
	return f.values
}

// UnmarshalJSON accepts a string, an array of strings, or null.
func (f *FollowupField) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		f.values = nil
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*f = NewFollowupField(single)
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		*f = NewFollowupField(many...)
		return nil
	}

	// Arrays with mixed element types still contribute their strings.
	var mixed []any
	if err := json.Unmarshal(data, &mixed); err == nil {
		values := make([]string, 0, len(mixed))
		for _, item := range mixed {
			if s, ok := item.(string); ok {
				values = append(values, s)
			}
		}
		*f = NewFollowupField(values...)
		return nil
	}

	return fmt.Errorf("followups: unsupported shape: %s", trimmed)
}

// MarshalJSON renders the normalized form.
func (f FollowupField) MarshalJSON() ([]byte, error) {
	if f.values == nil {
		return []byte("null"), nil
	}
	return json.Marshal(f.values)
}

// DecodeFollowupColumn normalizes the raw database column value. The column
// is JSONB, which the driver hands over as raw JSON text: a quoted scalar
// string, an array, or null. Legacy rows may hold plain unquoted text, so
// anything that fails JSON decoding is taken verbatim.
func DecodeFollowupColumn(raw *string) FollowupField {
	if raw == nil {
		return FollowupField{}
	}
	trimmed := strings.TrimSpace(*raw)
	if trimmed == "" {
		return FollowupField{}
	}
	var field FollowupField
	if err := field.UnmarshalJSON([]byte(trimmed)); err == nil {
		return field
	}
	return NewFollowupField(trimmed)
}
