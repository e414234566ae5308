package mock

import (
	"context"
	"math"
	"testing"

	"github.com/poiesic/conductor/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEmbedder_Deterministic(t *testing.T) {
	m := NewMockEmbedder()
	ctx := context.Background()

	a, err := m.EmbedText(ctx, "hello")
	require.NoError(t, err)
	b, err := m.EmbedText(ctx, "hello")
	require.NoError(t, err)
	c, err := m.EmbedText(ctx, "goodbye")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 384)
	assert.Equal(t, 3, m.CallCount())
	assert.Equal(t, DefaultModelVersion, m.ModelVersion())

	var sum float64
	for _, v := range a {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-4)
}

func TestMockEmbedder_EmbedTexts(t *testing.T) {
	m := NewMockEmbedder()
	vecs, err := m.EmbedTexts(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)

	m.Reset()
	assert.Equal(t, 0, m.CallCount())
}

func TestMockCompleter(t *testing.T) {
	m := NewMockCompleter()
	out, err := m.Complete(context.Background(), ai.CompletionRequest{Messages: []ai.Message{
		{Role: ai.RoleSystem, Content: "be brief"},
		{Role: ai.RoleUser, Content: " the thread "},
	}})
	require.NoError(t, err)
	assert.Equal(t, "summary: the thread", out)
	assert.Equal(t, 1, m.CallCount())
	assert.Equal(t, "be brief", m.Requests()[0].Messages[0].Content)
}

func TestMockProvider(t *testing.T) {
	p := NewMockProvider()
	mp := p.(*MockProvider)
	assert.Same(t, mp.GetMockEmbedder(), p.Embedder())
	assert.Same(t, mp.GetMockCompleter(), p.Completer())
	assert.NoError(t, p.Close())
	assert.Equal(t, 1, mp.CloseCalls())

	custom := NewMockEmbedder()
	withServices := NewMockProviderWithServices(custom, nil).(*MockProvider)
	assert.Same(t, custom, withServices.GetMockEmbedder())
	assert.NotNil(t, withServices.GetMockCompleter())
}

func TestMockEmbedder_SharedWordsAreSimilar(t *testing.T) {
	m := NewMockEmbedder()
	ctx := context.Background()
	query, _ := m.EmbedText(ctx, "how many rows are in the sheet?")
	summary, _ := m.EmbedText(ctx, "Sheet1 has 105 rows and 3 columns.")
	row, _ := m.EmbedText(ctx, "region: north, product: widget-0, units: 7")

	dot := func(a, b []float32) float32 {
		var s float32
		for i := range a {
			s += a[i] * b[i]
		}
		return s
	}
	assert.Greater(t, dot(query, summary), dot(query, row))
}
