package transcribe

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatten(t *testing.T) {
	res := &Result{Segments: []Segment{
		{Text: " Hello there.", Words: []Word{{" Hello", 0.0, 0.4}, {" there.", 0.5, 0.9}}},
		{Text: " General Kenobi.", Words: []Word{{" General", 1.2, 1.6}, {" Kenobi.", 1.7, 2.3}}},
	}}

	text, words := Flatten(res)

	assert.Equal(t, "Hello there. General Kenobi.", text)
	require.Len(t, words, 4)
	assert.Equal(t, " General", words[2].Word)
	assert.Equal(t, 1.2, words[2].Start)
	for i := 1; i < len(words); i++ {
		assert.LessOrEqual(t, words[i-1].Start, words[i].Start)
	}
}

func TestFlatten_NoSeparatorAdded(t *testing.T) {
	res := &Result{Segments: []Segment{{Text: "ab"}, {Text: "cd"}}}

	text, _ := Flatten(res)
	assert.Equal(t, "abcd", text)
}

func TestFlatten_Empty(t *testing.T) {
	for _, res := range []*Result{nil, {}, {Segments: []Segment{{Text: "   "}}}} {
		text, words := Flatten(res)
		assert.Equal(t, "", text)
		assert.NotNil(t, words)
		assert.Empty(t, words)
	}
}

func TestParseOutput(t *testing.T) {
	res, err := ParseOutput([]byte(`{"id":1,"language":"en","duration":2.5,"segments":[{"start":0,"end":2.5,"text":" hi","words":[{"word":" hi","start":0.1,"end":0.3}]}]}`))
	require.NoError(t, err)
	assert.Equal(t, "en", res.Language)
	assert.Equal(t, 2.5, res.Duration)
	assert.Equal(t, 0.3, res.Segments[0].Words[0].End)

	_, err = ParseOutput([]byte(`{"error":"RuntimeError: boom"}`))
	assert.ErrorIs(t, err, ErrEngine)
	assert.Contains(t, err.Error(), "boom")

	_, err = ParseOutput([]byte(`not json`))
	assert.Error(t, err)
}

func TestDefaultOptionsArgs(t *testing.T) {
	args := strings.Join(DefaultOptions().Args(), " ")

	for _, want := range []string{
		"--language en",
		"--task transcribe",
		"--beam-size 5",
		"--word-timestamps 1",
		"--vad-filter 1",
		"--condition-on-previous-text 0",
		"--compute-type int8",
	} {
		assert.Contains(t, args, want)
	}
}

func TestScriptEmbedded(t *testing.T) {
	assert.Contains(t, Script, "faster_whisper")
	assert.Contains(t, Script, "--serve")
}
