package core

import "time"

// File kinds.
const (
	FileKindOriginal   = "original"
	FileKindTranscoded = "transcoded"
)

// File is the metadata of a stored media object.
type File struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Kind      string    `json:"kind"`
	Name      string    `json:"name"`
	ObjectKey string    `json:"object_key"`
	Size      int64     `json:"size"`
	MimeType  string    `json:"mimetype"`
	CreatedAt time.Time `json:"created_at"`
	InputID   string    `json:"input_id,omitempty"`
	Ready     bool      `json:"ready"`
}

// Downloadable reports whether the file's object can be served. Transcoded
// outputs are only downloadable once the executor has marked them ready.
func (f *File) Downloadable() bool {
	if f.Kind != FileKindTranscoded {
		return true
	}
	return f.Ready || f.Size > 0
}
