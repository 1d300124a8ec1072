// Package transcribeapi calls an OpenAI-compatible /audio/transcriptions
// endpoint and asks for verbose_json with word timestamps.
package transcribeapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/forPelevin/reelplan/internal/logger"
	"github.com/forPelevin/reelplan/internal/ports"
	"github.com/forPelevin/reelplan/internal/retry"
	"github.com/forPelevin/reelplan/internal/types"
)

const maxErrorBody = 400

type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	Retry      retry.Policy
	HTTPClient *http.Client
	Log        logrus.FieldLogger
}

type Adapter struct {
	cfg    Config
	client *http.Client
	log    logrus.FieldLogger

	// events collects retry events of the last Transcribe call.
	events []types.RetryEvent
}

func New(cfg Config) *Adapter {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	log := cfg.Log
	if log == nil {
		log = logger.Discard()
	}
	return &Adapter{cfg: cfg, client: client, log: log.WithField("component", "transcribe-api")}
}

// RetryEvents reports retries made by the most recent Transcribe call.
func (a *Adapter) RetryEvents() []types.RetryEvent { return a.events }

func (a *Adapter) Transcribe(ctx context.Context, req ports.TranscribeRequest) (types.RawTranscript, error) {
	audio, err := os.ReadFile(req.AudioPath)
	if err != nil {
		return types.RawTranscript{}, fmt.Errorf("read audio: %w", err)
	}
	model := a.cfg.Model
	if req.Model != "" {
		model = req.Model
	}

	var out types.RawTranscript
	events, err := a.cfg.Retry.Do(ctx, retry.Label{Step: "transcription", Subject: filepath.Base(req.AudioPath), Provider: model}, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
		tr, err := a.post(callCtx, audio, filepath.Base(req.AudioPath), model, req.Language)
		if err != nil {
			return err
		}
		out = tr
		return nil
	})
	a.events = events
	if err != nil {
		return types.RawTranscript{}, fmt.Errorf("transcription api: %w", err)
	}
	a.log.WithField("segments", len(out.Segments)).Debug("transcription api done")
	return out, nil
}

func (a *Adapter) post(ctx context.Context, audio []byte, filename, model, language string) (types.RawTranscript, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return types.RawTranscript{}, retry.Permanent(err)
	}
	if _, err := fw.Write(audio); err != nil {
		return types.RawTranscript{}, retry.Permanent(err)
	}
	fields := [][2]string{
		{"model", model},
		{"response_format", "verbose_json"},
		{"timestamp_granularities[]", "segment"},
		{"timestamp_granularities[]", "word"},
	}
	if language != "" {
		fields = append(fields, [2]string{"language", language})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return types.RawTranscript{}, retry.Permanent(err)
		}
	}
	if err := mw.Close(); err != nil {
		return types.RawTranscript{}, retry.Permanent(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return types.RawTranscript{}, retry.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return types.RawTranscript{}, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.RawTranscript{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(b))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		if a.cfg.APIKey != "" {
			msg = strings.ReplaceAll(msg, a.cfg.APIKey, "[REDACTED]")
		}
		err := fmt.Errorf("status %d: %s", resp.StatusCode, msg)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return types.RawTranscript{}, retry.Permanent(err)
		}
		return types.RawTranscript{}, err
	}
	return ParseVerboseJSON(b)
}

// ParseVerboseJSON maps a verbose_json response onto RawTranscript. Word
// timestamps arrive as a flat list and are assigned to segments by start time.
func ParseVerboseJSON(b []byte) (types.RawTranscript, error) {
	if !gjson.ValidBytes(b) {
		return types.RawTranscript{}, retry.Permanent(fmt.Errorf("verbose_json response is not valid JSON"))
	}
	doc := gjson.ParseBytes(b)
	tr := types.RawTranscript{Language: doc.Get("language").String()}
	for _, s := range doc.Get("segments").Array() {
		tr.Segments = append(tr.Segments, types.RawSegment{
			Start: s.Get("start").Float(),
			End:   s.Get("end").Float(),
			Text:  strings.TrimSpace(s.Get("text").String()),
		})
	}
	if len(tr.Segments) == 0 {
		if text := strings.TrimSpace(doc.Get("text").String()); text != "" {
			tr.Segments = append(tr.Segments, types.RawSegment{Start: 0, End: doc.Get("duration").Float(), Text: text})
		}
	}

	seg := 0
	for _, w := range doc.Get("words").Array() {
		word := types.RawWord{
			Start: w.Get("start").Float(),
			End:   w.Get("end").Float(),
			Word:  strings.TrimSpace(w.Get("word").String()),
		}
		if word.Word == "" || len(tr.Segments) == 0 {
			continue
		}
		for seg < len(tr.Segments)-1 && word.Start >= tr.Segments[seg].End {
			seg++
		}
		tr.Segments[seg].Words = append(tr.Segments[seg].Words, word)
	}
	return tr, nil
}
