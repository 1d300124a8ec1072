package types

import "time"

type ClipType string

const (
	ClipSource   ClipType = "source_clip"
	ClipTemplate ClipType = "template_clip"
	ClipAsset    ClipType = "asset_clip"
)

// TimelineClip places [SourceStartUs, SourceEndUs) of SourceRef at
// [StartUs, EndUs) on the timeline.
type TimelineClip struct {
	ClipID        string         `json:"clipId"`
	TrackID       string         `json:"trackId"`
	ClipType      ClipType       `json:"clipType"`
	StartUs       int64          `json:"startUs"`
	EndUs         int64          `json:"endUs"`
	SourceStartUs int64          `json:"sourceStartUs"`
	SourceEndUs   int64          `json:"sourceEndUs"`
	SourceRef     string         `json:"sourceRef"`
	Effects       map[string]any `json:"effects,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
}

type TimelineTrack struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Order  int    `json:"order"`
	Locked bool   `json:"locked"`
}

// Timeline is the document shape written when no timeline exists yet.
// Existing documents are edited in place so fields unknown here survive.
type Timeline struct {
	ID         string          `json:"id"`
	ProjectID  string          `json:"projectId"`
	Version    int64           `json:"version"`
	Status     string          `json:"status"`
	FPS        int             `json:"fps"`
	DurationUs int64           `json:"durationUs"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	Tracks     []TimelineTrack `json:"tracks"`
	Clips      []TimelineClip  `json:"clips"`
}

// Flows.
const (
	FlowRoughCut = "rough-cut"
	FlowEnrich   = "enrich"
)

// Job statuses.
const (
	StatusTranscriptionInProgress    = "TRANSCRIPTION_IN_PROGRESS"
	StatusRoughCutPlanReady          = "ROUGH_CUT_PLAN_READY"
	StatusRoughCutFailed             = "ROUGH_CUT_FAILED"
	StatusTemplatePlanningInProgress = "TEMPLATE_PLANNING_IN_PROGRESS"
	StatusEnrichedTimelineReady      = "ENRICHED_TIMELINE_READY"
	StatusEnrichmentFailed           = "ENRICHMENT_FAILED"
)

type JobRecord struct {
	ProjectID        string           `json:"projectId"`
	Flow             string           `json:"flow"`
	RunID            string           `json:"runId"`
	Status           string           `json:"status"`
	StartedAt        time.Time        `json:"startedAt"`
	CompletedAt      *time.Time       `json:"completedAt,omitempty"`
	FinishedAt       *time.Time       `json:"finishedAt,omitempty"`
	StageDurationsMs map[string]int64 `json:"stageDurationsMs"`
	RetryEvents      []RetryEvent     `json:"retryEvents"`
	Error            string           `json:"error,omitempty"`
}
