package model

// Correction records one change made while refining a transcript
type Correction struct {
	Original  string `json:"original"`
	Corrected string `json:"corrected"`
	Reason    string `json:"reason"`
}

// RefinementResult is the structured output of the refinement stage.
// FinalText is always populated; the other fields are best-effort.
type RefinementResult struct {
	FinalText           string       `json:"final_text"`
	Corrections         []Correction `json:"corrections"`
	UserIntent          string       `json:"user_intent,omitempty"`
	KeyPoints           []string     `json:"key_points,omitempty"`
	StructureSuggestion string       `json:"structure_suggestion,omitempty"`
	UnclearParts        []string     `json:"unclear_parts,omitempty"`
	// Provider names the backend that produced the result, empty for pass-through
	Provider string `json:"provider,omitempty"`
}

// PassThrough returns the degraded result that echoes the input
func PassThrough(rawText string) *RefinementResult {
	return &RefinementResult{
		FinalText:   rawText,
		Corrections: []Correction{},
	}
}
