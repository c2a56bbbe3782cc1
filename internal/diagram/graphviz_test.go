package diagram

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepflow/pkg/schema"
)

func TestRenderImage_PNG(t *testing.T) {
	model, err := Build(linearWorkflow(), nil, nil)
	require.NoError(t, err)

	png, err := RenderImage(context.Background(), model, FormatPNG)
	require.NoError(t, err)
	require.Greater(t, len(png), 8)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}

func TestRenderImage_SVGWithJumpsAndStatus(t *testing.T) {
	rec := schema.NewExecutionRecord("review-loop", schema.RecordOptions{StepsTotal: 4})
	rec.MarkStepCompleted("draft")
	rec.CurrentStepIndex = 2
	rec.Status = schema.StatusInProgress

	model, err := Build(loopingWorkflow(), rec, nil)
	require.NoError(t, err)

	svg, err := RenderImage(context.Background(), model, FormatSVG)
	require.NoError(t, err)
	assert.Contains(t, string(svg), "<svg")
	assert.Contains(t, string(svg), "retry")
}

func TestRenderImage_UnsupportedFormat(t *testing.T) {
	model, err := Build(linearWorkflow(), nil, nil)
	require.NoError(t, err)

	_, err = RenderImage(context.Background(), model, "gif")
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}
