// Package transcribe turns audio files into text with word timings using
// faster-whisper.
//
// The model runs in Python. A helper script embedded in the binary is
// executed either as one long-lived local worker process (Local) or, one
// call at a time, inside pre-warmed Docker containers (package
// transcribe/docker). Both speak the same JSON.
package transcribe

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sakif/voice-notes/internal/model"
)

// Script is the Python helper. Run with --serve it answers one JSON request
// per stdin line; otherwise it transcribes --audio once and exits.
//
//go:embed assets/transcribe.py
var Script string

// Engine is a speech-to-text backend. Implementations must be safe for
// concurrent use.
type Engine interface {
	Transcribe(ctx context.Context, audioPath string) (*Result, error)
	Close() error
}

// Word is one recognized word. Times are seconds from the start of the
// audio. Word usually carries its leading space.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Words []Word  `json:"words"`
}

// Result is the engine output for one file.
type Result struct {
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Segments []Segment `json:"segments"`
}

// Options are the decoding parameters passed to faster-whisper. Only the
// model, device and compute type are configurable; the rest are fixed by
// DefaultOptions.
type Options struct {
	Model                   string
	Device                  string
	ComputeType             string
	Language                string
	Task                    string
	BeamSize                int
	WordTimestamps          bool
	VADFilter               bool
	ConditionOnPreviousText bool
}

// DefaultOptions: English only, no translation, word timestamps, VAD to
// trim silence, no conditioning on previous text (less drift on short
// clips), beam size 5.
func DefaultOptions() Options {
	return Options{
		Model:                   "base",
		Device:                  "cpu",
		ComputeType:             "int8",
		Language:                "en",
		Task:                    "transcribe",
		BeamSize:                5,
		WordTimestamps:          true,
		VADFilter:               true,
		ConditionOnPreviousText: false,
	}
}

// Args renders the options as helper script flags.
func (o Options) Args() []string {
	return []string{
		"--model", o.Model,
		"--device", o.Device,
		"--compute-type", o.ComputeType,
		"--language", o.Language,
		"--task", o.Task,
		"--beam-size", strconv.Itoa(o.BeamSize),
		"--word-timestamps", boolArg(o.WordTimestamps),
		"--vad-filter", boolArg(o.VADFilter),
		"--condition-on-previous-text", boolArg(o.ConditionOnPreviousText),
	}
}

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Flatten joins segment texts with no separator (faster-whisper already
// puts a leading space on each) and trims the result. Words from all
// segments are returned in order; the slice is never nil.
func Flatten(r *Result) (string, []model.Word) {
	words := make([]model.Word, 0)
	if r == nil {
		return "", words
	}

	var b strings.Builder
	for _, seg := range r.Segments {
		b.WriteString(seg.Text)
		for _, w := range seg.Words {
			words = append(words, model.Word{Word: w.Word, Start: w.Start, End: w.End})
		}
	}

	return strings.TrimSpace(b.String()), words
}

// output is one JSON document written by the helper: either a result or
// an error message.
type output struct {
	Result
	Error string `json:"error,omitempty"`
}

// ErrEngine wraps failures reported by the helper script itself.
var ErrEngine = errors.New("transcribe: engine error")

// ParseOutput decodes one helper response.
func ParseOutput(data []byte) (*Result, error) {
	var out output
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("transcribe: decoding helper output: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrEngine, out.Error)
	}
	return &out.Result, nil
}
