package langsmith

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/baggage"
)

// TestToHeaders verifies the trace header carries the dotted order and
// the baggage header carries metadata, tags and project.
func TestToHeaders(t *testing.T) {
	rt, err := NewRunTree(nil,
		WithRunName("pipeline"),
		WithRunProject("checkout"),
		WithRunTags("prod", "eu-west"),
		WithRunMetadata(map[string]interface{}{"tenant": "acme"}),
	)
	require.NoError(t, err)

	headers := rt.ToHeaders()
	assert.Equal(t, rt.DottedOrder(), headers[TraceHeader])

	bag, err := baggage.Parse(headers[BaggageHeader])
	require.NoError(t, err)
	assert.Equal(t, "prod,eu-west", bag.Member("langsmith-tags").Value())
	assert.Equal(t, "checkout", bag.Member("langsmith-project").Value())
	assert.JSONEq(t, `{"tenant":"acme"}`, bag.Member("langsmith-metadata").Value())
}

// TestToHeadersWithoutAnnotations verifies runs with nothing to carry
// emit only the trace header.
func TestToHeadersWithoutAnnotations(t *testing.T) {
	rt, err := NewRunTree(nil, WithRunName("pipeline"))
	require.NoError(t, err)

	headers := rt.ToHeaders()
	assert.NotEmpty(t, headers[TraceHeader])
	_, hasBaggage := headers[BaggageHeader]
	assert.False(t, hasBaggage)
}

// TestInjectHeaders verifies headers land on an outgoing request.
func TestInjectHeaders(t *testing.T) {
	rt, err := NewRunTree(nil, WithRunName("pipeline"), WithRunTags("prod"))
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, "http://downstream.internal/work", nil)
	require.NoError(t, err)
	rt.InjectHeaders(req.Header)

	assert.Equal(t, rt.DottedOrder(), req.Header.Get(TraceHeader))

	bag, err := baggage.Parse(req.Header.Get(BaggageHeader))
	require.NoError(t, err)
	assert.Equal(t, "prod", bag.Member("langsmith-tags").Value())
}

// TestRunTreeFromHeaders verifies a downstream service reconstructs the
// caller's run and continues the same trace.
func TestRunTreeFromHeaders(t *testing.T) {
	origin, err := NewRunTree(nil,
		WithRunName("pipeline"),
		WithRunProject("checkout"),
		WithRunTags("prod", "eu-west"),
		WithRunMetadata(map[string]interface{}{"tenant": "acme"}),
	)
	require.NoError(t, err)

	h := http.Header{}
	origin.InjectHeaders(h)

	remote, ok, err := RunTreeFromHeaders(nil, h)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, remote)

	assert.Equal(t, origin.ID(), remote.ID())
	assert.Equal(t, origin.TraceID(), remote.TraceID())
	assert.Equal(t, origin.DottedOrder(), remote.DottedOrder())
	assert.Equal(t, "checkout", remote.Project())
	assert.Equal(t, []string{"prod", "eu-west"}, remote.Tags())

	meta, _ := remote.Extra()["metadata"].(map[string]interface{})
	assert.Equal(t, "acme", meta["tenant"])
}

// TestRunTreeFromHeadersNoTrace verifies headerless requests report no
// trace without error.
func TestRunTreeFromHeadersNoTrace(t *testing.T) {
	rt, ok, err := RunTreeFromHeaders(nil, http.Header{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, rt)
}

// TestRunTreeFromHeadersBadTrace verifies a malformed trace header is an
// error rather than a silently new trace.
func TestRunTreeFromHeadersBadTrace(t *testing.T) {
	h := http.Header{}
	h.Set(TraceHeader, "garbage")

	rt, ok, err := RunTreeFromHeaders(nil, h)
	require.Error(t, err)
	assert.False(t, ok)
	assert.Nil(t, rt)
}

// TestRemoteParentChildrenExtendTrace verifies children of a
// reconstructed parent nest under the caller's dotted order.
func TestRemoteParentChildrenExtendTrace(t *testing.T) {
	origin, err := NewRunTree(nil, WithRunName("pipeline"), WithRunProject("checkout"))
	require.NoError(t, err)

	h := http.Header{}
	origin.InjectHeaders(h)

	remote, ok, err := RunTreeFromHeaders(nil, h)
	require.NoError(t, err)
	require.True(t, ok)

	child, err := remote.CreateChild(WithRunName("local-step"))
	require.NoError(t, err)

	assert.Equal(t, origin.TraceID(), child.TraceID())
	assert.Equal(t, origin.ID(), child.ParentRunID())
	assert.True(t, strings.HasPrefix(child.DottedOrder(), origin.DottedOrder()+"."))
	assert.Equal(t, "checkout", child.Project())
}

// TestPropagationRoundTripThroughRequest verifies the full hop: inject on
// the client side, reconstruct on the server side of the same request.
func TestPropagationRoundTripThroughRequest(t *testing.T) {
	origin, err := NewRunTree(nil, WithRunName("pipeline"), WithRunTags("prod"))
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, "http://downstream.internal/work", nil)
	require.NoError(t, err)
	origin.InjectHeaders(req.Header)

	remote, ok, err := RunTreeFromHeaders(nil, req.Header)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, origin.DottedOrder(), remote.DottedOrder())

	start, err := time.Parse("20060102T150405", origin.DottedOrder()[:15])
	require.NoError(t, err)
	assert.Equal(t, start.Truncate(time.Second), remote.StartTime().Truncate(time.Second))
}
