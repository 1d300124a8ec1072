// Package whispercpp runs a local Whisper runtime: the whisper.cpp CLI, the
// faster-whisper python package or the openai-whisper command (binary or
// python module).
package whispercpp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/forPelevin/reelplan/internal/logger"
	"github.com/forPelevin/reelplan/internal/ports"
	"github.com/forPelevin/reelplan/internal/types"
)

const (
	RuntimeWhisperCpp    = "whisper.cpp"
	RuntimeFasterWhisper = "faster-whisper"
	RuntimeOpenAIWhisper = "openai-whisper"
)

type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

type Adapter struct {
	runtime string
	bin     string
	model   string
	log     logrus.FieldLogger
	run     runner
}

func New(runtime, binPath, model string, log logrus.FieldLogger) *Adapter {
	if log == nil {
		log = logger.Discard()
	}
	return &Adapter{
		runtime: runtime,
		bin:     binPath,
		model:   model,
		log:     log.WithFields(logrus.Fields{"component": "whisper", "runtime": runtime}),
		run:     execCombined,
	}
}

func execCombined(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func (a *Adapter) Transcribe(ctx context.Context, req ports.TranscribeRequest) (types.RawTranscript, error) {
	if err := os.MkdirAll(req.WorkDir, 0o755); err != nil {
		return types.RawTranscript{}, fmt.Errorf("create whisper work dir: %w", err)
	}
	model := a.model
	if req.Model != "" {
		model = req.Model
	}
	switch a.runtime {
	case RuntimeWhisperCpp:
		return a.transcribeCpp(ctx, req, model)
	case RuntimeFasterWhisper:
		return a.transcribeFaster(ctx, req, model)
	case RuntimeOpenAIWhisper:
		return a.transcribePython(ctx, req, model)
	default:
		return types.RawTranscript{}, fmt.Errorf("unsupported local runtime %q", a.runtime)
	}
}

func (a *Adapter) transcribeCpp(ctx context.Context, req ports.TranscribeRequest, model string) (types.RawTranscript, error) {
	outPrefix := filepath.Join(req.WorkDir, "whisper")
	lang := req.Language
	if lang == "" {
		lang = "auto"
	}
	args := []string{
		"-m", model,
		"-f", req.AudioPath,
		"-l", lang,
		"-ojf",
		"-of", outPrefix,
	}
	a.log.WithField("model", model).Debug("running whisper.cpp")
	b, err := a.run(ctx, a.bin, args...)
	if err != nil {
		return types.RawTranscript{}, fmt.Errorf("whisper.cpp failed: %w\n%s", err, string(b))
	}
	jb, err := os.ReadFile(outPrefix + ".json")
	if err != nil {
		return types.RawTranscript{}, fmt.Errorf("read whisper.cpp output: %w", err)
	}
	return ParseCppJSON(jb)
}

// ParseCppJSON reads whisper.cpp -oj/-ojf output. Offsets are milliseconds;
// tokens (present with -ojf) are folded into words on leading spaces.
func ParseCppJSON(b []byte) (types.RawTranscript, error) {
	if !gjson.ValidBytes(b) {
		return types.RawTranscript{}, fmt.Errorf("whisper.cpp output is not valid JSON")
	}
	doc := gjson.ParseBytes(b)
	tr := types.RawTranscript{Language: doc.Get("result.language").String()}
	for _, seg := range doc.Get("transcription").Array() {
		rs := types.RawSegment{
			Start: seg.Get("offsets.from").Float() / 1000,
			End:   seg.Get("offsets.to").Float() / 1000,
			Text:  strings.TrimSpace(seg.Get("text").String()),
		}
		rs.Words = cppWords(seg.Get("tokens"))
		tr.Segments = append(tr.Segments, rs)
	}
	return tr, nil
}

func cppWords(tokens gjson.Result) []types.RawWord {
	var (
		out   []types.RawWord
		probs []float64
	)
	flush := func() {
		if len(out) == 0 || len(probs) == 0 {
			return
		}
		var sum float64
		for _, p := range probs {
			sum += p
		}
		out[len(out)-1].Probability = sum / float64(len(probs))
		probs = probs[:0]
	}
	for _, tok := range tokens.Array() {
		text := tok.Get("text").String()
		if strings.HasPrefix(strings.TrimSpace(text), "[_") || strings.TrimSpace(text) == "" {
			continue
		}
		from := tok.Get("offsets.from").Float() / 1000
		to := tok.Get("offsets.to").Float() / 1000
		if strings.HasPrefix(text, " ") || len(out) == 0 {
			flush()
			out = append(out, types.RawWord{Start: from, End: to, Word: strings.TrimSpace(text)})
		} else {
			w := &out[len(out)-1]
			w.Word += text
			if to > w.End {
				w.End = to
			}
		}
		probs = append(probs, tok.Get("p").Float())
	}
	flush()
	return out
}

// fasterWhisperScript is run with python3 -c. argv: audio, model, language
// ("" for auto detection), output path. Times are written as integer
// microseconds.
const fasterWhisperScript = `
import json, sys
from faster_whisper import WhisperModel
audio, model_name, language, out = sys.argv[1:5]
model = WhisperModel(model_name, device="cpu", compute_type="int8")
segments, info = model.transcribe(audio, language=language or None, beam_size=5, word_timestamps=True, vad_filter=True)
us = lambda t: int(t * 1000000)
result = {"language": info.language or language, "duration": getattr(info, "duration", 0), "segments": []}
for seg in segments:
    words = [{"text": w.word.strip(), "startUs": us(w.start), "endUs": us(w.end), "confidence": round(getattr(w, "probability", 0.9), 3)} for w in (seg.words or [])]
    result["segments"].append({"startUs": us(seg.start), "endUs": us(seg.end), "text": seg.text.strip(), "words": words})
with open(out, "w", encoding="utf-8") as f:
    json.dump(result, f, ensure_ascii=False)
`

func (a *Adapter) transcribeFaster(ctx context.Context, req ports.TranscribeRequest, model string) (types.RawTranscript, error) {
	out := filepath.Join(req.WorkDir, "faster-whisper.json")
	a.log.WithField("model", model).Debug("running faster-whisper")
	b, err := a.run(ctx, a.bin, "-c", fasterWhisperScript, req.AudioPath, model, req.Language, out)
	if err != nil {
		return types.RawTranscript{}, fmt.Errorf("faster-whisper failed: %w\n%s", err, string(b))
	}
	jb, err := os.ReadFile(out)
	if err != nil {
		return types.RawTranscript{}, fmt.Errorf("read faster-whisper output: %w", err)
	}
	return ParseFasterWhisperJSON(jb)
}

// ParseFasterWhisperJSON reads the faster-whisper runner's output, where
// times are integer microseconds.
func ParseFasterWhisperJSON(b []byte) (types.RawTranscript, error) {
	if !gjson.ValidBytes(b) {
		return types.RawTranscript{}, fmt.Errorf("faster-whisper output is not valid JSON")
	}
	doc := gjson.ParseBytes(b)
	sec := func(r gjson.Result) float64 { return float64(r.Int()) / 1e6 }
	tr := types.RawTranscript{Language: doc.Get("language").String()}
	for _, seg := range doc.Get("segments").Array() {
		rs := types.RawSegment{
			Start: sec(seg.Get("startUs")),
			End:   sec(seg.Get("endUs")),
			Text:  strings.TrimSpace(seg.Get("text").String()),
		}
		for _, w := range seg.Get("words").Array() {
			text := strings.TrimSpace(w.Get("text").String())
			if text == "" {
				continue
			}
			rs.Words = append(rs.Words, types.RawWord{
				Start:       sec(w.Get("startUs")),
				End:         sec(w.Get("endUs")),
				Word:        text,
				Probability: w.Get("confidence").Float(),
			})
		}
		tr.Segments = append(tr.Segments, rs)
	}
	return tr, nil
}

func (a *Adapter) transcribePython(ctx context.Context, req ports.TranscribeRequest, model string) (types.RawTranscript, error) {
	var args []string
	if filepath.Base(a.bin) != "whisper" {
		args = append(args, "-m", "whisper")
	}
	args = append(args,
		req.AudioPath,
		"--model", model,
		"--output_format", "json",
		"--output_dir", req.WorkDir,
		"--word_timestamps", "True",
		"--verbose", "False",
	)
	if req.Language != "" {
		args = append(args, "--language", req.Language)
	}
	a.log.WithField("model", model).Debug("running openai-whisper")
	b, err := a.run(ctx, a.bin, args...)
	if err != nil {
		return types.RawTranscript{}, fmt.Errorf("openai-whisper failed: %w\n%s", err, string(b))
	}

	base := strings.TrimSuffix(filepath.Base(req.AudioPath), filepath.Ext(req.AudioPath))
	jb, err := os.ReadFile(filepath.Join(req.WorkDir, base+".json"))
	if err != nil {
		return types.RawTranscript{}, fmt.Errorf("read openai-whisper output: %w", err)
	}
	var tr types.RawTranscript
	if err := json.Unmarshal(jb, &tr); err != nil {
		return types.RawTranscript{}, fmt.Errorf("decode openai-whisper output: %w", err)
	}
	for i := range tr.Segments {
		tr.Segments[i].Text = strings.TrimSpace(tr.Segments[i].Text)
		for j := range tr.Segments[i].Words {
			tr.Segments[i].Words[j].Word = strings.TrimSpace(tr.Segments[i].Words[j].Word)
		}
	}
	return tr, nil
}
