package capability

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/conductor/core"
)

func echo(kind core.Capability) Executor {
	return Func{Kind: kind, Fn: func(ctx context.Context, inv *core.Invocation) (*core.Output, error) {
		return &core.Output{Text: string(kind)}, nil
	}}
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echo(core.CapabilityRetrieve)))
	require.NoError(t, r.Register(echo(core.CapabilitySummarize)))

	exec, err := r.Resolve(core.CapabilityRetrieve)
	require.NoError(t, err)
	out, err := exec.Invoke(context.Background(), &core.Invocation{})
	require.NoError(t, err)
	assert.Equal(t, "retrieve", out.Text)

	assert.Equal(t, []core.Capability{core.CapabilityRetrieve, core.CapabilitySummarize}, r.Kinds())
}

func TestRegistry_RegisterErrors(t *testing.T) {
	tests := []struct {
		name    string
		exec    Executor
		wantErr error
	}{
		{"nil executor", nil, ErrExecutorRequired},
		{"unknown kind", echo("launch-rockets"), core.ErrUnknownCapability},
		{"duplicate", echo(core.CapabilityRetrieve), ErrAlreadyRegistered},
	}

	r := NewRegistry()
	require.NoError(t, r.Register(echo(core.CapabilityRetrieve)))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, r.Register(tt.exec), tt.wantErr)
		})
	}
}

func TestRegistry_ResolveMissing(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve(core.CapabilityCreateTicket)
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestRegistry_Validate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echo(core.CapabilityRetrieve)))
	assert.NoError(t, r.Validate(core.CapabilityRetrieve))
	assert.ErrorIs(t, r.Validate(core.CapabilityRetrieve, core.CapabilityPostMessage), ErrNotRegistered)
}

func TestRegistry_Timeouts(t *testing.T) {
	r := NewRegistry(
		WithDefaultTimeout(10*time.Second),
		WithTimeout(core.CapabilityReviewCode, time.Minute),
		WithTimeout(core.CapabilitySummarize, 0),
	)
	assert.Equal(t, time.Minute, r.Timeout(core.CapabilityReviewCode))
	assert.Equal(t, 10*time.Second, r.Timeout(core.CapabilitySummarize))
	assert.Equal(t, DefaultTimeout, NewRegistry().Timeout(core.CapabilityRetrieve))
}

func TestRegistry_ConcurrentResolve(t *testing.T) {
	r := NewRegistry()
	for _, c := range core.Capabilities() {
		require.NoError(t, r.Register(echo(c)))
	}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := core.Capabilities()[i%len(core.Capabilities())]
			exec, err := r.Resolve(c)
			assert.NoError(t, err)
			assert.Equal(t, c, exec.Capability())
		}(i)
	}
	wg.Wait()
}
