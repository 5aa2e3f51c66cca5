package detectscenes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipsight/clipsight/internal/models"
)

func frameWithEmbedding(number int, embedding []float32) *models.Frame {
	return &models.Frame{FrameNumber: number, Confidence: 0.9, Embedding: embedding}
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)

	// Degenerate inputs.
	assert.Zero(t, cosineSimilarity(nil, nil))
	assert.Zero(t, cosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Zero(t, cosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}

func TestSceneBreakByEmbedding(t *testing.T) {
	similar := frameWithEmbedding(0, []float32{1, 0.1})
	alsoSimilar := frameWithEmbedding(1, []float32{1, 0.15})
	different := frameWithEmbedding(2, []float32{0, 1})

	assert.False(t, sceneBreak(similar, alsoSimilar))
	assert.True(t, sceneBreak(alsoSimilar, different))
}

func TestSceneBreakFallbackHeuristic(t *testing.T) {
	manyObjects := &models.Frame{Confidence: 0.9, Objects: make([]models.DetectedObject, 8)}
	fewObjects := &models.Frame{Confidence: 0.9, Objects: make([]models.DetectedObject, 1)}
	lowConfidence := &models.Frame{Confidence: 0.4}
	steady := &models.Frame{Confidence: 0.9, Objects: make([]models.DetectedObject, 2)}

	assert.True(t, sceneBreak(manyObjects, fewObjects), "object delta above threshold")
	assert.True(t, sceneBreak(steady, lowConfidence), "low confidence frame")
	assert.False(t, sceneBreak(steady, &models.Frame{Confidence: 0.9, Objects: make([]models.DetectedObject, 4)}))
}

func TestSceneSpansGreedyPartition(t *testing.T) {
	frames := []*models.Frame{
		frameWithEmbedding(0, []float32{1, 0}),
		frameWithEmbedding(1, []float32{1, 0.05}),
		frameWithEmbedding(2, []float32{0, 1}), // break
		frameWithEmbedding(3, []float32{0, 1}),
		frameWithEmbedding(4, []float32{1, 0}), // break
	}

	spans := sceneSpans(frames)
	require.Len(t, spans, 3)
	assert.Equal(t, frameSpan{start: 0, end: 1}, spans[0])
	assert.Equal(t, frameSpan{start: 2, end: 3}, spans[1])
	assert.Equal(t, frameSpan{start: 4, end: 4}, spans[2])
}

func TestSceneSpansSingleFrame(t *testing.T) {
	spans := sceneSpans([]*models.Frame{frameWithEmbedding(0, nil)})
	require.Len(t, spans, 1)
	assert.Equal(t, frameSpan{start: 0, end: 0}, spans[0])
}

func TestMeanConfidence(t *testing.T) {
	frames := []*models.Frame{
		{Confidence: 0.8},
		{Confidence: 0.6},
	}
	assert.InDelta(t, 0.7, meanConfidence(frames), 1e-9)
	assert.Zero(t, meanConfidence(nil))
}
