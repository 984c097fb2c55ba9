package homography

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abworrall/burstfuse/pkg/match"
	"github.com/abworrall/burstfuse/pkg/parallel"
	"github.com/abworrall/burstfuse/pkg/surf"
	"github.com/abworrall/burstfuse/pkg/synth"
)

// Detect, describe and match a synthetic scene against a shifted copy,
// and check the translation comes back out of RANSAC.
func TestRecoverTranslationFromFeatures(t *testing.T) {
	const w, h = 200, 160
	scene := synth.NewScene(11, w, h, 90)
	exec := parallel.NewPool(4)

	d, err := surf.NewDetector(surf.NewConfig(), exec, nil)
	require.NoError(t, err)

	refKps, refDescs := d.DetectAndCompute(scene.Plane(w, h, 0, 0))
	kps, descs := d.DetectAndCompute(scene.Plane(w, h, 6, -4))
	require.NotEmpty(t, refKps)
	require.NotEmpty(t, kps)

	matches := match.MatchKeypoints(exec, refDescs, descs)
	res, err := FindHomography(PairsFromMatches(matches, refKps, kps), NewConfig())
	require.NoError(t, err)

	// Frame content moved by (6,-4), so mapping it back is (-6,4)
	tx, ty := res.H.Translation()
	assert.InDelta(t, -6.0, tx, 0.5, "H:\n%s", res.H)
	assert.InDelta(t, 4.0, ty, 0.5, "H:\n%s", res.H)
	assert.Greater(t, len(res.Inliers), 0)
}

func TestPairsFromMatches(t *testing.T) {
	query := []surf.KeyPoint{{X: 1, Y: 2}, {X: 3, Y: 4}}
	train := []surf.KeyPoint{{X: 5, Y: 6}, {X: 7, Y: 8}, {X: 9, Y: 10}}
	pairs := PairsFromMatches([]match.Match{{QueryIdx: 1, TrainIdx: 2}, {QueryIdx: 0, TrainIdx: 0}}, query, train)

	assert.Equal(t, []Pair{
		{Query: Point{3, 4}, Train: Point{9, 10}},
		{Query: Point{1, 2}, Train: Point{5, 6}},
	}, pairs)
}
