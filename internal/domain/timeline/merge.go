// Package timeline writes the rough cut and splices enrichment output into a
// project's timeline document. The document is edited as raw JSON so fields
// written by other tools are carried through untouched.
package timeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"

	"github.com/forPelevin/reelplan/internal/types"
)

// meta.generatedBy values. Clips carrying one are owned by that flow and are
// replaced wholesale when it runs again.
const (
	GeneratedBy         = "reelplan-enrich"
	RoughCutGeneratedBy = "ai-rough-cut"
)

const (
	StatusDraft    = "DRAFT"
	StatusRoughCut = "ROUGH_CUT_READY"
	StatusEnriched = "AI_ENRICHED"

	TrackVideo     = "video-main"
	TrackBroll     = "overlay-broll"
	TrackTemplates = "overlay-templates"
	TrackCaptions  = "captions"

	DefaultFPS = 30
)

var builtinTracks = map[string]types.TimelineTrack{
	TrackVideo:     {ID: TrackVideo, Name: "Main Video", Kind: "video"},
	TrackBroll:     {ID: TrackBroll, Name: "B-Roll", Kind: "overlay"},
	TrackTemplates: {ID: TrackTemplates, Name: "Templates", Kind: "overlay"},
	TrackCaptions:  {ID: TrackCaptions, Name: "Captions", Kind: "caption"},
}

// baseTracks exist in every document this package writes.
var baseTracks = []string{TrackVideo, TrackCaptions}

type Input struct {
	ProjectID  string
	SourceRef  string
	FPS        int
	DurationUs int64
	Placements []types.TemplatePlacement
	Assets     []types.AssetSuggestion
	Now        time.Time
}

type Result struct {
	Document      []byte
	Version       int64
	DurationUs    int64
	Clips         int
	SourceClips   int
	TemplateClips int
	AssetClips    int
	Replaced      int
}

type clip struct {
	raw     string
	startUs int64
	trackID string
}

// Merge returns the updated document with this run's template and b-roll
// clips. existing may be empty, in which case a timeline holding the whole
// source as one clip is started.
func Merge(existing []byte, in Input) (Result, error) {
	now := nowOr(in.Now)
	doc, fresh, err := open(existing, in.ProjectID, in.FPS, now)
	if err != nil {
		return Result{}, err
	}

	var res Result
	clips, replaced := keepClips(doc, GeneratedBy)
	res.Replaced = replaced
	// An existing document keeps its own length; overlays past it extend it.
	floor := gjson.GetBytes(doc, "durationUs").Int()
	if fresh {
		floor = in.DurationUs
		whole := []Span{{StartUs: 0, EndUs: in.DurationUs}}
		for _, c := range sourceClips(in.SourceRef, whole, nil) {
			ec, err := encodeClip(c)
			if err != nil {
				return Result{}, err
			}
			clips = append(clips, ec)
			res.SourceClips++
		}
	}
	for _, p := range in.Placements {
		c, err := encodeClip(templateClip(p))
		if err != nil {
			return Result{}, err
		}
		clips = append(clips, c)
		res.TemplateClips++
	}
	for _, a := range in.Assets {
		if !usable(a) {
			continue
		}
		c, err := encodeClip(assetClip(a))
		if err != nil {
			return Result{}, err
		}
		clips = append(clips, c)
		res.AssetClips++
	}

	return assemble(doc, clips, res, assembly{
		status:     StatusEnriched,
		durationUs: floor,
		fps:        in.FPS,
		projectID:  in.ProjectID,
		now:        now,
	})
}

// open parses existing or, when it is blank, starts an empty draft. fresh
// reports the latter.
func open(existing []byte, projectID string, fps int, now time.Time) ([]byte, bool, error) {
	if len(strings.TrimSpace(string(existing))) > 0 {
		if !gjson.ValidBytes(existing) || !gjson.ParseBytes(existing).IsObject() {
			return nil, false, errors.New("timeline: existing document is not a JSON object")
		}
		return existing, false, nil
	}
	tl := types.Timeline{
		ID:        "timeline-" + uuid.NewString(),
		ProjectID: projectID,
		Status:    StatusDraft,
		FPS:       fpsOrDefault(fps),
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
		Tracks:    []types.TimelineTrack{builtinTracks[TrackVideo], builtinTracks[TrackCaptions]},
		Clips:     []types.TimelineClip{},
	}
	b, err := json.Marshal(tl)
	if err != nil {
		return nil, false, fmt.Errorf("timeline: new document: %w", err)
	}
	return b, true, nil
}

// keepClips returns the document's clips minus those generated by owner.
func keepClips(doc []byte, owner string) ([]clip, int) {
	var (
		out      []clip
		replaced int
	)
	for _, c := range gjson.GetBytes(doc, "clips").Array() {
		if c.Get("meta.generatedBy").String() == owner {
			replaced++
			continue
		}
		out = append(out, clip{raw: c.Raw, startUs: c.Get("startUs").Int(), trackID: c.Get("trackId").String()})
	}
	return out, replaced
}

type assembly struct {
	status string
	// durationUs is a floor; clips ending later extend the document.
	durationUs int64
	fps        int
	// forceFPS overwrites an fps already present in the document.
	forceFPS  bool
	projectID string
	now       time.Time
}

// assemble writes the sorted clips, rebuilt tracks and bookkeeping fields
// into doc and bumps its version.
func assemble(doc []byte, clips []clip, res Result, a assembly) (Result, error) {
	sort.SliceStable(clips, func(i, j int) bool {
		if clips[i].startUs != clips[j].startUs {
			return clips[i].startUs < clips[j].startUs
		}
		return clips[i].trackID < clips[j].trackID
	})

	raws := make([]string, 0, len(clips))
	duration := a.durationUs
	for _, c := range clips {
		raws = append(raws, c.raw)
		if end := gjson.Get(c.raw, "endUs").Int(); end > duration {
			duration = end
		}
	}
	tracks, err := rebuildTracks(gjson.GetBytes(doc, "tracks").Array(), clips)
	if err != nil {
		return Result{}, err
	}

	version := gjson.GetBytes(doc, "version").Int() + 1
	ed := &editor{doc: doc}
	ed.setRaw("clips", "["+strings.Join(raws, ",")+"]")
	ed.setRaw("tracks", tracks)
	ed.set("durationUs", duration)
	ed.set("version", version)
	ed.set("status", a.status)
	ed.set("updatedAt", a.now.UTC().Format(time.RFC3339Nano))
	if (a.forceFPS && a.fps > 0) || gjson.GetBytes(doc, "fps").Int() <= 0 {
		ed.set("fps", fpsOrDefault(a.fps))
	}
	if a.projectID != "" && !gjson.GetBytes(doc, "projectId").Exists() {
		ed.set("projectId", a.projectID)
	}
	if ed.err != nil {
		return Result{}, ed.err
	}

	res.Document = pretty.Pretty(ed.doc)
	res.Version = version
	res.DurationUs = duration
	res.Clips = len(clips)
	return res, nil
}

type editor struct {
	doc []byte
	err error
}

func (e *editor) set(path string, v any) {
	if e.err == nil {
		if e.doc, e.err = sjson.SetBytes(e.doc, path, v); e.err != nil {
			e.err = fmt.Errorf("timeline: set %s: %w", path, e.err)
		}
	}
}

func (e *editor) setRaw(path, raw string) {
	if e.err == nil {
		if e.doc, e.err = sjson.SetRawBytes(e.doc, path, []byte(raw)); e.err != nil {
			e.err = fmt.Errorf("timeline: set %s: %w", path, e.err)
		}
	}
}

func templateClip(p types.TemplatePlacement) types.TimelineClip {
	return types.TimelineClip{
		ClipID:      "tpl-" + p.ID,
		TrackID:     TrackTemplates,
		ClipType:    types.ClipTemplate,
		StartUs:     p.StartUs,
		EndUs:       p.EndUs,
		SourceEndUs: p.EndUs - p.StartUs,
		SourceRef:   "template://" + p.TemplateID,
		Meta: map[string]any{
			"generatedBy": GeneratedBy,
			"placementId": p.ID,
			"templateId":  p.TemplateID,
			"segmentId":   p.SegmentID,
			"headline":    p.Content.Headline,
			"subline":     p.Content.Subline,
			"confidence":  p.Confidence,
		},
	}
}

func assetClip(a types.AssetSuggestion) types.TimelineClip {
	meta := map[string]any{
		"generatedBy":     GeneratedBy,
		"assetId":         a.ID,
		"provider":        a.Provider,
		"kind":            a.Kind,
		"query":           a.Query,
		"license":         a.Media.License,
		"providerAssetId": a.Media.ProviderAssetID,
	}
	if a.Media.Attribution != nil {
		meta["attribution"] = a.Media.Attribution
	}
	return types.TimelineClip{
		ClipID:      "broll-" + a.ID,
		TrackID:     TrackBroll,
		ClipType:    types.ClipAsset,
		StartUs:     a.StartUs,
		EndUs:       a.EndUs,
		SourceEndUs: a.EndUs - a.StartUs,
		SourceRef:   a.Media.LocalPath,
		Effects:     a.Effects,
		Meta:        meta,
	}
}

func usable(a types.AssetSuggestion) bool {
	ok := a.Media.Status == types.MediaCached || a.Media.Status == types.MediaDownloaded
	return ok && a.Media.LocalPath != "" && a.EndUs > a.StartUs
}

func encodeClip(c types.TimelineClip) (clip, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return clip{}, fmt.Errorf("timeline: encode clip %s: %w", c.ClipID, err)
	}
	return clip{raw: string(b), startUs: c.StartUs, trackID: c.TrackID}, nil
}

// rebuildTracks keeps existing track objects, adds any track a clip refers to
// and renumbers "order" as video, b-roll, templates, then everything else.
func rebuildTracks(existing []gjson.Result, clips []clip) (string, error) {
	type track struct {
		id  string
		raw string
		pos int
	}
	seen := map[string]bool{}
	var tracks []track
	for _, t := range existing {
		id := t.Get("id").String()
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		tracks = append(tracks, track{id: id, raw: t.Raw, pos: len(tracks)})
	}
	need := append([]string(nil), baseTracks...)
	for _, c := range clips {
		need = append(need, c.trackID)
	}
	for _, id := range need {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		t, ok := builtinTracks[id]
		if !ok {
			t = types.TimelineTrack{ID: id, Name: id, Kind: "overlay"}
		}
		b, err := json.Marshal(t)
		if err != nil {
			return "", fmt.Errorf("timeline: encode track %s: %w", id, err)
		}
		tracks = append(tracks, track{id: id, raw: string(b), pos: len(tracks)})
	}

	sort.SliceStable(tracks, func(i, j int) bool {
		ri, rj := trackRank(tracks[i].id, tracks[i].raw), trackRank(tracks[j].id, tracks[j].raw)
		if ri != rj {
			return ri < rj
		}
		return tracks[i].pos < tracks[j].pos
	})
	raws := make([]string, 0, len(tracks))
	for i, t := range tracks {
		raw, err := sjson.Set(t.raw, "order", i)
		if err != nil {
			return "", fmt.Errorf("timeline: order track %s: %w", t.id, err)
		}
		raws = append(raws, raw)
	}
	return "[" + strings.Join(raws, ",") + "]", nil
}

func trackRank(id, raw string) int {
	switch {
	case id == TrackVideo || gjson.Get(raw, "kind").String() == "video":
		return 0
	case id == TrackBroll:
		return 1
	case id == TrackTemplates:
		return 2
	default:
		return 3
	}
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func fpsOrDefault(fps int) int {
	if fps <= 0 {
		return DefaultFPS
	}
	return fps
}
