package results

import (
	"bytes"
	"encoding/json"
	"path"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/pixelvault/moderation-server/taxonomy"
)

// DefaultThreshold is the minimum label confidence (0-100) for a label to
// count towards the flagged determination.
const DefaultThreshold = 80.0

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".heic", ".heif", ".bmp", ".tiff"}

// Normalizer parses the heterogeneous result encodings emitted by the
// analysis service into canonical per-image records. Malformed files and
// lines are logged and skipped; they never fail the batch.
type Normalizer struct {
	log *zap.Logger
}

func NewNormalizer(log *zap.Logger) *Normalizer {
	return &Normalizer{log: log}
}

// Normalize parses every file and returns one Normalized record per
// recognizable per-image result. An empty return across all files is a
// valid outcome, not an error.
func (n *Normalizer) Normalize(files []File, threshold float64) []Normalized {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	var out []Normalized
	idx := 0
	for _, f := range files {
		for _, elem := range n.parsePayload(f) {
			if rec, ok := n.normalizeOne(elem, idx, threshold); ok {
				out = append(out, rec)
			}
			idx++
		}
	}
	return out
}

func isLineDelimited(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".jsonl") || strings.HasSuffix(lower, ".ndjson")
}

// parsePayload splits one raw payload into individual result elements.
// Precedence: line-delimited by filename, then whole-payload JSON as an
// array, a {"Results": [...]} wrapper, or a single result object.
func (n *Normalizer) parsePayload(f File) []json.RawMessage {
	if isLineDelimited(f.Name) {
		var elems []json.RawMessage
		for i, line := range bytes.Split(f.Data, []byte("\n")) {
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}
			var elem json.RawMessage
			if err := json.Unmarshal(line, &elem); err != nil {
				n.log.Warn("Skipping malformed result line",
					zap.String("file", f.Name),
					zap.Int("line", i+1),
					zap.Error(err))
				continue
			}
			elems = append(elems, elem)
		}
		return elems
	}

	trimmed := bytes.TrimSpace(f.Data)

	var arr []json.RawMessage
	if err := json.Unmarshal(trimmed, &arr); err == nil {
		return arr
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		n.log.Warn("Skipping malformed result file", zap.String("file", f.Name), zap.Error(err))
		return nil
	}

	if wrapped, ok := obj["Results"]; ok {
		var inner []json.RawMessage
		if err := json.Unmarshal(wrapped, &inner); err == nil {
			return inner
		}
	}

	if _, ok := obj["ModerationLabels"]; ok {
		return []json.RawMessage{json.RawMessage(trimmed)}
	}

	n.log.Warn("Skipping unrecognized result structure", zap.String("file", f.Name))
	return nil
}

// element covers both the enveloped result shape, where the labels sit one
// level deep under an analysis-type key next to a source reference, and the
// flat shape where the label array is at the top level.
type element struct {
	Source           json.RawMessage `json:"Source"`
	SourceRef        string          `json:"source-ref"`
	ModerationLabels json.RawMessage `json:"ModerationLabels"`
}

func decodeLabels(raw json.RawMessage) ([]Label, bool) {
	if len(raw) == 0 {
		return nil, false
	}

	var flat []Label
	if err := json.Unmarshal(raw, &flat); err == nil {
		return flat, true
	}

	var enveloped struct {
		ModerationLabels []Label `json:"ModerationLabels"`
	}
	if err := json.Unmarshal(raw, &enveloped); err == nil {
		return enveloped.ModerationLabels, true
	}
	return nil, false
}

func decodeSource(el element) string {
	if el.SourceRef != "" {
		return el.SourceRef
	}
	if len(el.Source) == 0 {
		return ""
	}

	var ref string
	if err := json.Unmarshal(el.Source, &ref); err == nil {
		return ref
	}

	var obj struct {
		S3Object struct {
			Bucket string `json:"Bucket"`
			Name   string `json:"Name"`
		} `json:"S3Object"`
	}
	if err := json.Unmarshal(el.Source, &obj); err == nil && obj.S3Object.Name != "" {
		return obj.S3Object.Name
	}
	return ""
}

// imageIDFromSource derives a stable image id from the trailing path segment
// of the source reference, stripped of known image extensions. Without a
// path separator it falls back to the positional index.
func imageIDFromSource(src string, idx int) string {
	if !strings.Contains(src, "/") {
		return strconv.Itoa(idx)
	}

	base := path.Base(src)
	lower := strings.ToLower(base)
	for _, ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			base = base[:len(base)-len(ext)]
			break
		}
	}
	if base == "" {
		return strconv.Itoa(idx)
	}
	return base
}

func isNSFWLabel(l Label) bool {
	for _, cat := range nsfwCategories {
		if strings.EqualFold(l.Name, cat) || strings.EqualFold(l.ParentName, cat) {
			return true
		}
	}
	return false
}

func (n *Normalizer) normalizeOne(raw json.RawMessage, idx int, threshold float64) (Normalized, bool) {
	var el element
	if err := json.Unmarshal(raw, &el); err != nil {
		n.log.Warn("Skipping unparseable result element", zap.Int("index", idx), zap.Error(err))
		return Normalized{}, false
	}

	labels, ok := decodeLabels(el.ModerationLabels)
	if !ok {
		n.log.Warn("Skipping result element without a recognizable labels field", zap.Int("index", idx))
		return Normalized{}, false
	}

	src := decodeSource(el)
	rec := Normalized{
		ImageID:    imageIDFromSource(src, idx),
		SourcePath: src,
		Raw:        raw,
	}

	var counted []taxonomy.LabelRef
	var maxConfidence float64
	for _, l := range labels {
		if l.Confidence > maxConfidence {
			maxConfidence = l.Confidence
		}
		if l.Confidence < threshold {
			continue
		}
		counted = append(counted, taxonomy.LabelRef{Name: l.Name, ParentName: l.ParentName})
		if isNSFWLabel(l) {
			rec.IsFlagged = true
			rec.MatchedLabels = append(rec.MatchedLabels, l.Name)
		}
	}

	rec.ConfidenceScore = maxConfidence / 100

	if rec.IsFlagged {
		cat := taxonomy.Classify(counted)
		rec.AssignedCategory = &cat
	}
	return rec, true
}
