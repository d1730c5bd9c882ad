package results

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func testNormalizer() *Normalizer {
	return NewNormalizer(zap.NewNop())
}

func TestNormalize_LineDelimited(t *testing.T) {
	data := `{"Source": {"S3Object": {"Bucket": "b", "Name": "photos/cat.jpg"}}, "ModerationLabels": [{"Name": "Explicit Nudity", "Confidence": 92.0}]}
not json at all

{"Source": "photos/dog.png", "ModerationLabels": []}
{"broken":
`

	core, logs := observer.New(zap.WarnLevel)
	got := NewNormalizer(zap.New(core)).Normalize([]File{{Name: "output-0.jsonl", Data: []byte(data)}}, 80)
	require.Len(t, got, 2)

	// One warning per malformed line; blank lines are skipped silently.
	require.Equal(t, 2, logs.FilterMessage("Skipping malformed result line").Len())

	require.Equal(t, "cat", got[0].ImageID)
	require.Equal(t, "photos/cat.jpg", got[0].SourcePath)
	require.True(t, got[0].IsFlagged)
	require.Equal(t, []string{"Explicit Nudity"}, got[0].MatchedLabels)
	require.InDelta(t, 0.92, got[0].ConfidenceScore, 1e-9)
	require.NotNil(t, got[0].AssignedCategory)
	require.Equal(t, "explicit", got[0].AssignedCategory.ID)

	require.Equal(t, "dog", got[1].ImageID)
	require.False(t, got[1].IsFlagged)
	require.Nil(t, got[1].AssignedCategory)
}

func TestNormalize_JSONArray(t *testing.T) {
	data := `[
		{"Source": "a/one.jpeg", "ModerationLabels": [{"Name": "Violence", "Confidence": 85}]},
		{"Source": "a/two.jpeg", "ModerationLabels": [{"Name": "Beach", "Confidence": 99}]}
	]`

	got := testNormalizer().Normalize([]File{{Name: "results.json", Data: []byte(data)}}, 80)
	require.Len(t, got, 2)
	require.True(t, got[0].IsFlagged)
	require.False(t, got[1].IsFlagged)
	require.InDelta(t, 0.99, got[1].ConfidenceScore, 1e-9)
}

func TestNormalize_ResultsWrapper(t *testing.T) {
	data := `{"Results": [{"Source": "x/img.png", "ModerationLabels": [{"Name": "Suggestive", "Confidence": 81}]}]}`

	got := testNormalizer().Normalize([]File{{Name: "final.json", Data: []byte(data)}}, 80)
	require.Len(t, got, 1)
	require.True(t, got[0].IsFlagged)
}

func TestNormalize_SingleObject(t *testing.T) {
	data := `{"ModerationLabels": [{"Name": "Gambling", "Confidence": 95}]}`

	got := testNormalizer().Normalize([]File{{Name: "result.json", Data: []byte(data)}}, 80)
	require.Len(t, got, 1)
	// Gambling is not in the NSFW set even though it is in the display taxonomy.
	require.False(t, got[0].IsFlagged)
	require.InDelta(t, 0.95, got[0].ConfidenceScore, 1e-9)
}

func TestNormalize_UnrecognizedStructure(t *testing.T) {
	got := testNormalizer().Normalize([]File{
		{Name: "weird.json", Data: []byte(`{"hello": "world"}`)},
		{Name: "broken.json", Data: []byte(`not json`)},
	}, 80)
	require.Empty(t, got)
}

func TestNormalize_EnvelopedLabels(t *testing.T) {
	// Labels nested one level deep under the analysis-type key.
	data := `{"Source": {"S3Object": {"Bucket": "b", "Name": "in/photo.HEIC"}}, "ModerationLabels": {"ModerationLabels": [{"Name": "Explicit Nudity", "Confidence": 90.5}], "ModerationModelVersion": "7.0"}}`

	got := testNormalizer().Normalize([]File{{Name: "out.jsonl", Data: []byte(data)}}, 80)
	require.Len(t, got, 1)
	require.Equal(t, "photo", got[0].ImageID)
	require.True(t, got[0].IsFlagged)
}

func TestNormalize_ThresholdExcludesLabels(t *testing.T) {
	data := `{"Source": "d/pic.jpg", "ModerationLabels": [
		{"Name": "Explicit Nudity", "Confidence": 79.9},
		{"Name": "Beach", "Confidence": 50}
	]}`

	got := testNormalizer().Normalize([]File{{Name: "out.jsonl", Data: []byte(data)}}, 80)
	require.Len(t, got, 1)

	// Below-threshold labels never contribute to the flag or the category.
	require.False(t, got[0].IsFlagged)
	require.Empty(t, got[0].MatchedLabels)
	require.Nil(t, got[0].AssignedCategory)

	// But the confidence score is the max over all labels.
	require.InDelta(t, 0.799, got[0].ConfidenceScore, 1e-9)
}

func TestNormalize_ParentNameMatchesNSFWSet(t *testing.T) {
	data := `{"Source": "d/pic.jpg", "ModerationLabels": [
		{"Name": "Graphic Violence", "ParentName": "Violence", "Confidence": 88}
	]}`

	got := testNormalizer().Normalize([]File{{Name: "out.jsonl", Data: []byte(data)}}, 80)
	require.Len(t, got, 1)
	require.True(t, got[0].IsFlagged)
	require.Equal(t, []string{"Graphic Violence"}, got[0].MatchedLabels)
}

func TestNormalize_PositionalImageID(t *testing.T) {
	data := `[
		{"ModerationLabels": []},
		{"Source": "noseparator", "ModerationLabels": []}
	]`

	got := testNormalizer().Normalize([]File{{Name: "results.json", Data: []byte(data)}}, 80)
	require.Len(t, got, 2)
	require.Equal(t, "0", got[0].ImageID)
	require.Equal(t, "1", got[1].ImageID)
}

func TestNormalize_DefaultThreshold(t *testing.T) {
	data := `{"Source": "d/pic.jpg", "ModerationLabels": [{"Name": "Suggestive", "Confidence": 80}]}`

	got := testNormalizer().Normalize([]File{{Name: "out.jsonl", Data: []byte(data)}}, 0)
	require.Len(t, got, 1)
	require.True(t, got[0].IsFlagged)
}

func TestNormalize_EmptyInput(t *testing.T) {
	require.Empty(t, testNormalizer().Normalize(nil, 80))
}
