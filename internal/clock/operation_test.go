package clock

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOperation(t *testing.T) {
	for _, op := range Operations {
		parsed, err := ParseOperation(string(op))
		require.NoError(t, err)
		assert.Equal(t, op, parsed)
	}

	_, err := ParseOperation("Lunch")
	assert.Error(t, err)

	_, err = ParseOperation("clockin")
	assert.Error(t, err, "operations are case sensitive")
}

func TestOperation_ExhaustiveSwitches(t *testing.T) {
	// Every declared operation must be handled by each switch without panicking
	for _, op := range Operations {
		assert.True(t, op.Valid())
		assert.NotPanics(t, func() { op.NeedsEntry() })
		assert.NotPanics(t, func() { op.Path("entry-1") })
	}

	assert.Panics(t, func() { Operation("Unknown").NeedsEntry() })
	assert.Panics(t, func() { Operation("Unknown").Path("") })
}

func TestOperation_Path(t *testing.T) {
	assert.Equal(t, "/api/v1/clock/in", OpClockIn.Path(""))
	assert.Equal(t, "/api/v1/clock/out", OpClockOut.Path(""))
	assert.Equal(t, "/api/v1/entries/e-42/dispute", OpDispute.Path("e-42"))
}

func TestCode_StatusRoundTrip(t *testing.T) {
	codes := []Code{
		CodeUnauthenticated,
		CodePermissionDenied,
		CodeFailedPrecondition,
		CodeNotFound,
		CodeInvalidArgument,
		CodeUnavailable,
		CodeDeadlineExceeded,
	}

	for _, code := range codes {
		t.Run(string(code), func(t *testing.T) {
			assert.Equal(t, code, CodeFromStatus(code.HTTPStatus()))
		})
	}
}

func TestCode_Retryable(t *testing.T) {
	assert.True(t, CodeUnavailable.Retryable())
	assert.True(t, CodeDeadlineExceeded.Retryable())
	assert.False(t, CodeFailedPrecondition.Retryable())
	assert.False(t, CodePermissionDenied.Retryable())
	assert.False(t, CodeInternal.Retryable())

	assert.Equal(t, CodeUnavailable, CodeFromStatus(http.StatusBadGateway))
	assert.Equal(t, CodeUnavailable, CodeFromStatus(http.StatusTooManyRequests))
	assert.Equal(t, CodeInternal, CodeFromStatus(http.StatusNotImplemented))

	// A bare 500 without an error body is treated as an outage
	assert.Equal(t, CodeUnavailable, CodeFromStatus(CodeInternal.HTTPStatus()))
}
