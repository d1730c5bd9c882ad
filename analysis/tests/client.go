package tests

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pixelvault/moderation-server/analysis"
)

func RunClientTests(t *testing.T, client analysis.Client, teardown func()) {
	for _, tf := range []func(t *testing.T, client analysis.Client){
		testSubmitAndStatus,
		testUnknownJob,
	} {
		tf(t, client)
		teardown()
	}
}

func testSubmitAndStatus(t *testing.T, client analysis.Client) {
	ctx := context.Background()

	id, err := client.Submit(ctx, analysis.SubmitInput{
		ManifestBucket: "job-bucket",
		ManifestKey:    "input/manifest.jsonl",
		OutputBucket:   "job-bucket",
		OutputPrefix:   "output/",
		MinConfidence:  50,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	st, err := client.GetStatus(ctx, id)
	require.NoError(t, err)
	require.NotEqual(t, analysis.StateFailed, st.State)
}

func testUnknownJob(t *testing.T, client analysis.Client) {
	ctx := context.Background()

	_, err := client.GetStatus(ctx, "no-such-job")
	require.ErrorIs(t, err, analysis.ErrJobNotFound)
}
