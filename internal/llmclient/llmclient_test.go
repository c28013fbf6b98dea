package llmclient

import (
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/deepcite/internal/llm"
)

// TestClassifyCompletionErrRetryableStatuses guards the classification the
// retry loop in Complete gates on: rate-limited (429) and 5xx provider
// responses and errors with no HTTP status (connection failures) are
// transient, other provider statuses are terminal.
func TestClassifyCompletionErrRetryableStatuses(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		transient bool
	}{
		{"rate limited", &openai.APIError{HTTPStatusCode: 429}, true},
		{"server error", &openai.APIError{HTTPStatusCode: 503}, true},
		{"bad request", &openai.APIError{HTTPStatusCode: 400}, false},
		{"unauthorized", &openai.APIError{HTTPStatusCode: 401}, false},
		{"connection failure", errors.New("dial tcp: connection refused"), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyCompletionErr(tc.err)
			assert.Equal(t, tc.transient, errors.Is(got, llm.ErrTransientModel))
		})
	}
}
