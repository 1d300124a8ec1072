package types

import (
	"strings"
	"time"
)

// Cut range reason tags.
const (
	ReasonSilence      = "silence"
	ReasonFillerWord   = "filler-word"
	ReasonRepetition   = "repetition"
	ReasonLongPause    = "long-pause"
	ReasonIntroSilence = "intro-silence"
)

// Planner strategies shared by cut and template planning.
const (
	StrategyHeuristic         = "heuristic"
	StrategyLLM               = "llm"
	StrategyHeuristicFallback = "heuristic-fallback"
)

type CutRange struct {
	StartUs    int64   `json:"startUs"`
	EndUs      int64   `json:"endUs"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// Reasons splits the comma-joined reason tag set.
func (r CutRange) Reasons() []string {
	var out []string
	for _, p := range strings.Split(r.Reason, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type CutAnalysis struct {
	SilenceRangeCount int `json:"silenceRangeCount"`
	FillerWordCount   int `json:"fillerWordCount"`
	RepetitionCount   int `json:"repetitionCount"`
}

type PlannerInfo struct {
	Model    string `json:"model"`
	Strategy string `json:"strategy"`
}

type CutPlan struct {
	PlanID       string      `json:"planId"`
	TranscriptID string      `json:"transcriptId"`
	DurationUs   int64       `json:"durationUs"`
	CreatedAt    time.Time   `json:"createdAt"`
	Analysis     CutAnalysis `json:"analysis"`
	RemoveRanges []CutRange  `json:"removeRanges"`
	Planner      PlannerInfo `json:"planner"`
	Warnings     []string    `json:"warnings,omitempty"`
}

type TemplateDescriptor struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Source   string `json:"source"`
}

type PlacementContent struct {
	Headline string `json:"headline"`
	Subline  string `json:"subline"`
}

type PlacementConstraints struct {
	MinDurationUs    int64 `json:"minDurationUs"`
	MaxDurationUs    int64 `json:"maxDurationUs"`
	MinGapUs         int64 `json:"minGapUs"`
	HeadlineMaxWords int   `json:"headlineMaxWords"`
	SublineMaxChars  int   `json:"sublineMaxChars"`
}

type TemplatePlacement struct {
	ID          string               `json:"id"`
	TemplateID  string               `json:"templateId"`
	SegmentID   string               `json:"segmentId,omitempty"`
	StartUs     int64                `json:"startUs"`
	EndUs       int64                `json:"endUs"`
	Confidence  float64              `json:"confidence"`
	Content     PlacementContent     `json:"content"`
	Constraints PlacementConstraints `json:"constraints"`
}

// Warning levels.
const (
	LevelInfo = "info"
	LevelWarn = "warn"
)

type Warning struct {
	Code        string `json:"code"`
	Level       string `json:"level"`
	PlacementID string `json:"placementId,omitempty"`
	Message     string `json:"message"`
}

type AssetKind string

const (
	AssetImage AssetKind = "image"
	AssetVideo AssetKind = "video"
)

// Terminal asset media statuses.
const (
	MediaCached             = "cached"
	MediaDownloaded         = "downloaded"
	MediaFetchFailed        = "fetch_failed"
	MediaMissingCredentials = "missing_credentials"
	MediaSkipped            = "skipped"
)

type Attribution struct {
	Provider    string `json:"provider"`
	CreatorName string `json:"creatorName"`
	CreatorURL  string `json:"creatorUrl"`
	PageURL     string `json:"pageUrl"`
	License     string `json:"license"`
}

type AssetMedia struct {
	Status          string       `json:"status"`
	LocalPath       string       `json:"localPath,omitempty"`
	Attribution     *Attribution `json:"attribution,omitempty"`
	License         string       `json:"license,omitempty"`
	ProviderAssetID string       `json:"providerAssetId,omitempty"`
	Error           string       `json:"error,omitempty"`
}

type AssetSuggestion struct {
	ID       string         `json:"id"`
	Provider string         `json:"provider"`
	Kind     AssetKind      `json:"kind"`
	Query    string         `json:"query"`
	StartUs  int64          `json:"startUs"`
	EndUs    int64          `json:"endUs"`
	Effects  map[string]any `json:"effects,omitempty"`
	Media    AssetMedia     `json:"media"`
}

// AssetCandidate is a provider search hit chosen for download.
type AssetCandidate struct {
	ProviderAssetID string
	DownloadURL     string
	Ext             string
	CreatorName     string
	CreatorURL      string
	PageURL         string
	License         string
}

type RetryEvent struct {
	Step     string    `json:"step"`
	Subject  string    `json:"subject,omitempty"`
	Provider string    `json:"provider,omitempty"`
	Attempt  int       `json:"attempt"`
	DelayMs  int64     `json:"delayMs"`
	Error    string    `json:"error"`
	At       time.Time `json:"at"`
}

type TemplatePlan struct {
	PlanID        string               `json:"planId"`
	ProjectID     string               `json:"projectId"`
	TranscriptID  string               `json:"transcriptId"`
	DurationUs    int64                `json:"durationUs"`
	CreatedAt     time.Time            `json:"createdAt"`
	FetchExternal bool                 `json:"fetchExternal"`
	Planner       PlannerInfo          `json:"planner"`
	Templates     []TemplateDescriptor `json:"templates"`
	Placements    []TemplatePlacement  `json:"placements"`
	Assets        []AssetSuggestion    `json:"assets"`
	Constraints   PlacementConstraints `json:"constraints"`
	Warnings      []Warning            `json:"warnings"`
	RetryEvents   []RetryEvent         `json:"retryEvents"`
}
