package model

import "time"

// Word is one recognized word with its position in the source audio,
// in seconds from the start of the clip.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Transcript is the persisted result of one transcription.
//
// AudioPath is the bare filename inside the uploads directory, or nil when
// no audio is stored for the transcript. Words is stored as a JSON text
// column and is always non-nil after a read so it encodes as [] not null.
type Transcript struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"-"`
	AudioPath *string   `json:"audio"`
	Text      string    `json:"text"`
	Words     []Word    `json:"words"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PreviewLength is the number of characters kept in list previews.
const PreviewLength = 80

// TranscriptSummary is the reduced form returned by list endpoints.
type TranscriptSummary struct {
	ID        int64     `json:"id"`
	Preview   string    `json:"preview"`
	AudioPath *string   `json:"audio"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary reduces a transcript to its list form. The preview is cut on
// character boundaries, not bytes, so multi-byte text is never split.
func (t *Transcript) Summary() TranscriptSummary {
	preview := t.Text
	if r := []rune(preview); len(r) > PreviewLength {
		preview = string(r[:PreviewLength])
	}
	return TranscriptSummary{
		ID:        t.ID,
		Preview:   preview,
		AudioPath: t.AudioPath,
		CreatedAt: t.CreatedAt,
	}
}
