package types

import "time"

// RawTranscript is the loosely-typed output shared by every transcription
// backend (whisper.cpp -oj, faster-whisper, openai-whisper json, verbose_json
// API responses).
// Times are seconds.
type RawTranscript struct {
	Language string       `json:"language,omitempty"`
	Segments []RawSegment `json:"segments"`
}

type RawSegment struct {
	Start float64   `json:"start"`
	End   float64   `json:"end"`
	Text  string    `json:"text"`
	Words []RawWord `json:"words,omitempty"`
}

type RawWord struct {
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Word        string  `json:"word"`
	Probability float64 `json:"probability,omitempty"`
}

type Word struct {
	ID             string  `json:"id"`
	Text           string  `json:"text"`
	NormalizedText string  `json:"normalizedText"`
	StartUs        int64   `json:"startUs"`
	EndUs          int64   `json:"endUs"`
	Confidence     float64 `json:"confidence"`
}

type TranscriptSegment struct {
	ID         string   `json:"id"`
	StartUs    int64    `json:"startUs"`
	EndUs      int64    `json:"endUs"`
	Text       string   `json:"text"`
	WordIDs    []string `json:"wordIds"`
	Confidence float64  `json:"confidence"`
}

type TranscriptSource struct {
	Path       string `json:"path"`
	DurationUs int64  `json:"durationUs"`
}

type AdapterInfo struct {
	Kind    string `json:"kind"`
	Runtime string `json:"runtime"`
	Model   string `json:"model"`
}

// AdapterKindStub marks transcripts synthesized without any ASR backend.
const AdapterKindStub = "stub"

type CanonicalTranscript struct {
	TranscriptID string              `json:"transcriptId"`
	Language     string              `json:"language,omitempty"`
	CreatedAt    time.Time           `json:"createdAt"`
	Source       TranscriptSource    `json:"source"`
	Adapter      AdapterInfo         `json:"adapter"`
	Words        []Word              `json:"words"`
	Segments     []TranscriptSegment `json:"segments"`
}

