package llm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/deepcite/internal/llm"
)

func TestMockReturnsScriptedResponsesInOrder(t *testing.T) {
	m := llm.NewMock(
		llm.Response{Content: "first"},
		llm.Response{Content: "second"},
	)

	r1, err := m.Complete(context.Background(), llm.Request{})
	require.NoError(t, err)
	assert.Equal(t, "first", r1.Content)

	r2, err := m.Complete(context.Background(), llm.Request{})
	require.NoError(t, err)
	assert.Equal(t, "second", r2.Content)

	assert.Equal(t, 2, m.CallCount())
}

func TestMockFallsBackToDefault(t *testing.T) {
	m := llm.NewMock()
	m.Default = llm.Response{Content: "fallback"}

	r, err := m.Complete(context.Background(), llm.Request{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", r.Content)
}

func TestMockReturnsScriptedError(t *testing.T) {
	m := &llm.Mock{Errors: []error{assert.AnError}}

	_, err := m.Complete(context.Background(), llm.Request{})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestMockRecordsRequests(t *testing.T) {
	m := llm.NewMock(llm.Response{Content: "ok"})
	req := llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}}

	_, err := m.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, m.Requests, 1)
	assert.Equal(t, "hi", m.Requests[0].Messages[0].Content)
}
