package detectors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/botdetect/internal/core"
)

func stateWithHeaders(h core.Headers) *core.BlackboardState {
	return core.NewBlackboardState(&core.RequestView{Headers: h})
}

func TestHeader_AllPresentIsLenient(t *testing.T) {
	d := NewHeader()
	h := core.Headers{
		"Accept":          []string{"text/html"},
		"Accept-Language": []string{"en-US"},
		"Accept-Encoding":  []string{"gzip"},
	}
	contribs, err := d.Contribute(context.Background(), stateWithHeaders(h))

	require.NoError(t, err)
	require.Len(t, contribs, 1)
	assert.Less(t, contribs[0].ConfidenceDelta, 0.0)
}

func TestHeader_AllMissingIsStronglySuspicious(t *testing.T) {
	d := NewHeader()
	contribs, err := d.Contribute(context.Background(), stateWithHeaders(core.Headers{}))

	require.NoError(t, err)
	require.Len(t, contribs, 1)
	assert.Equal(t, 0.5, contribs[0].ConfidenceDelta)
	assert.Equal(t, int64(3), contribs[0].Signals["headers.missing_browser_headers"].Int)
}

func TestHeader_PartiallyMissingScalesWithCount(t *testing.T) {
	d := NewHeader()
	h := core.Headers{"Accept": []string{"text/html"}}
	contribs, err := d.Contribute(context.Background(), stateWithHeaders(h))

	require.NoError(t, err)
	require.Len(t, contribs, 1)
	assert.InDelta(t, 0.3, contribs[0].ConfidenceDelta, 1e-9)
}
