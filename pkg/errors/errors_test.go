package errors_test

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/budprat/agentic-5-sub002/pkg/errors"
)

func TestNew(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := pkgerrors.New("a2a", "SendMessage", cause)

	assert.Equal(t, "a2a", err.Component)
	assert.Equal(t, "SendMessage", err.Operation)
	assert.Equal(t, 0, err.StatusCode)
	assert.Nil(t, err.Details)
	assert.Equal(t, cause, err.Cause)
}

func TestNew_NilCause(t *testing.T) {
	err := pkgerrors.New("runner", "DispatchNode", nil)

	assert.Equal(t, "runner", err.Component)
	assert.Equal(t, "DispatchNode", err.Operation)
	assert.Nil(t, err.Cause)
}

func TestError_BasicMessage(t *testing.T) {
	cause := fmt.Errorf("file not found")
	err := pkgerrors.New("registry", "LoadCards", cause)

	assert.Equal(t, "[registry] LoadCards: file not found", err.Error())
}

func TestError_NoCause(t *testing.T) {
	err := pkgerrors.New("orchestrator", "Synthesize", nil)

	assert.Equal(t, "[orchestrator] Synthesize", err.Error())
}

func TestError_WithStatusCode(t *testing.T) {
	cause := fmt.Errorf("agent unavailable")
	err := pkgerrors.New("a2a", "SendMessage", cause).WithStatusCode(502)

	assert.Equal(t, "[a2a] SendMessage (status 502): agent unavailable", err.Error())
}

func TestWithDetails(t *testing.T) {
	err := pkgerrors.New("pool", "Acquire", nil).
		WithDetails(map[string]any{"endpoint": "http://localhost:9001"})

	require.NotNil(t, err.Details)
	assert.Equal(t, "http://localhost:9001", err.Details["endpoint"])
}

func TestUnwrap(t *testing.T) {
	err := pkgerrors.New("a2a", "Stream", io.ErrUnexpectedEOF)

	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))

	var ctxErr *pkgerrors.ContextualError
	assert.True(t, errors.As(err, &ctxErr))
	assert.Equal(t, "a2a", ctxErr.Component)
}

func TestUnwrap_NilCause(t *testing.T) {
	err := pkgerrors.New("session", "Create", nil)
	assert.Nil(t, errors.Unwrap(err))
}
