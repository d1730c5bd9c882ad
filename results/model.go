package results

import (
	"encoding/json"

	"github.com/pixelvault/moderation-server/taxonomy"
)

// Label is one moderation label as emitted by the analysis service.
type Label struct {
	Name       string     `json:"Name"`
	Confidence float64    `json:"Confidence"`
	ParentName string     `json:"ParentName,omitempty"`
	Instances  []Instance `json:"Instances,omitempty"`
}

// Instance is one bounding occurrence of a label within the image.
type Instance struct {
	BoundingBox BoundingBox `json:"BoundingBox"`
	Confidence  float64     `json:"Confidence"`
}

type BoundingBox struct {
	Width  float64 `json:"Width"`
	Height float64 `json:"Height"`
	Left   float64 `json:"Left"`
	Top    float64 `json:"Top"`
}

// File is one raw result payload pulled from ephemeral storage.
type File struct {
	Name string
	Data []byte
}

// Normalized is the canonical per-image moderation output.
type Normalized struct {
	ImageID          string
	SourcePath       string
	IsFlagged        bool
	ConfidenceScore  float64 // 0-1
	MatchedLabels    []string
	AssignedCategory *taxonomy.Category
	Raw              json.RawMessage // full raw payload, kept for audit
}

// nsfwCategories is the safety-classification list used for the flagged
// determination. It is intentionally separate from the display taxonomy in
// the taxonomy package; the two vocabularies are allowed to diverge.
var nsfwCategories = []string{
	"Explicit Nudity",
	"Explicit",
	"Non-Explicit Nudity",
	"Non-Explicit Nudity of Intimate parts and Kissing",
	"Suggestive",
	"Violence",
	"Visually Disturbing",
	"Hate Symbols",
}
