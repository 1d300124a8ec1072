//go:build integration

package itest

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func TestE2E(t *testing.T) {
	repoRoot := mustRepoRoot(t)
	tmp := t.TempDir()
	in := filepath.Join(tmp, "input.mp4")

	// One second of silence, three seconds of tone, two seconds of silence.
	ff := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", "color=c=black:s=640x360:d=6",
		"-f", "lavfi",
		"-i", `aevalsrc=if(between(t\,1\,4)\,0.5*sin(2*PI*440*t)\,0):s=16000:d=6`,
		"-shortest",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		in,
	)
	if b, err := ff.CombinedOutput(); err != nil {
		t.Fatalf("ffmpeg fixture failed: %v\n%s", err, string(b))
	}
	wantUs, err := mediaDurationUs(in)
	if err != nil {
		t.Fatalf("ffprobe fixture: %v", err)
	}

	projects := filepath.Join(tmp, "projects")
	env := map[string]string{
		"REELPLAN_PROJECTS_DIR": projects,
		"OPENAI_API_KEY":        "",
		"OPENROUTER_API_KEY":    "",
		"PEXELS_API_KEY":        "",
		"PIXABAY_API_KEY":       "",
	}

	res := runCLI(t, repoRoot, []string{"rough-cut", "Demo Project", "--source", in, "--mode", "api"}, env)
	if res.exitCode != 0 {
		t.Fatalf("rough-cut failed (exit %d):\n%s", res.exitCode, res.output)
	}
	var rough struct {
		ProjectID  string `json:"projectId"`
		Status     string `json:"status"`
		Transcript struct {
			Segments   int   `json:"segments"`
			DurationUs int64 `json:"durationUs"`
		} `json:"transcript"`
		CutPlan struct {
			Strategy     string `json:"strategy"`
			RemoveRanges int    `json:"removeRanges"`
		} `json:"cutPlan"`
		Timeline struct {
			Version     int64 `json:"version"`
			DurationUs  int64 `json:"durationUs"`
			SourceClips int   `json:"sourceClips"`
		} `json:"timeline"`
	}
	if err := json.Unmarshal([]byte(lastLine(res.stdout)), &rough); err != nil {
		t.Fatalf("decode rough-cut summary: %v\nstdout:\n%s", err, res.stdout)
	}
	if rough.ProjectID != "demo-project" || rough.Status != "ROUGH_CUT_PLAN_READY" {
		t.Fatalf("unexpected rough-cut summary: %+v", rough)
	}
	if rough.CutPlan.Strategy != "heuristic" {
		t.Fatalf("expected heuristic strategy without an llm key, got %q", rough.CutPlan.Strategy)
	}
	if rough.Transcript.Segments == 0 {
		t.Fatalf("expected stub transcript segments")
	}
	if d := rough.Transcript.DurationUs - wantUs; d > 100_000 || d < -100_000 {
		t.Fatalf("transcript duration %dus, ffprobe says %dus", rough.Transcript.DurationUs, wantUs)
	}
	if rough.Timeline.Version != 1 || rough.Timeline.SourceClips == 0 || rough.Timeline.DurationUs > rough.Transcript.DurationUs {
		t.Fatalf("unexpected rough-cut timeline: %+v", rough.Timeline)
	}

	projectDir := filepath.Join(projects, "demo-project")
	for _, rel := range []string{
		"transcript.json",
		filepath.Join("subtitles", "transcript.srt"),
		filepath.Join("subtitles", "transcript.vtt"),
		"cut-plan.json",
		"timeline.json",
		"rough-cut-job.json",
	} {
		if _, err := os.Stat(filepath.Join(projectDir, rel)); err != nil {
			t.Fatalf("missing %s: %v", rel, err)
		}
	}

	res = runCLI(t, repoRoot, []string{"enrich", "demo-project", "--fetch-external=false"}, env)
	if res.exitCode != 0 {
		t.Fatalf("enrich failed (exit %d):\n%s", res.exitCode, res.output)
	}
	var enrich struct {
		Status   string `json:"status"`
		Timeline struct {
			Version  int64 `json:"version"`
			Replaced int   `json:"replaced"`
		} `json:"timeline"`
	}
	if err := json.Unmarshal([]byte(lastLine(res.stdout)), &enrich); err != nil {
		t.Fatalf("decode enrich summary: %v\nstdout:\n%s", err, res.stdout)
	}
	if enrich.Status != "ENRICHED_TIMELINE_READY" || enrich.Timeline.Version != 2 || enrich.Timeline.Replaced != 0 {
		t.Fatalf("unexpected enrich summary: %+v", enrich)
	}
	for _, rel := range []string{"template-plan.json", "enrich-job.json"} {
		if _, err := os.Stat(filepath.Join(projectDir, rel)); err != nil {
			t.Fatalf("missing %s: %v", rel, err)
		}
	}

	res = runCLI(t, repoRoot, []string{"status", "demo-project"}, env)
	if res.exitCode != 0 {
		t.Fatalf("status failed (exit %d):\n%s", res.exitCode, res.output)
	}
	for _, want := range []string{"rough-cut", "enrich", "ROUGH_CUT_PLAN_READY", "ENRICHED_TIMELINE_READY"} {
		if !strings.Contains(res.stdout, want) {
			t.Fatalf("status output missing %q:\n%s", want, res.stdout)
		}
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}
