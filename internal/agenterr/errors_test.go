package agenterr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAgentErrorMessageIncludesDetails(t *testing.T) {
	e := New(DeviceNotFound, "device not found: abc").
		WithDetails(map[string]interface{}{"device_id": "abc"})
	assert.Contains(t, e.Error(), "DEVICE_NOT_FOUND")
	assert.Contains(t, e.Error(), "device not found: abc")
	assert.Contains(t, e.Error(), "device_id")
}

func TestWrapPreservesCauseForErrorsIs(t *testing.T) {
	cause := errors.New("boom")
	e := Wrap(SimulatorError, cause)
	assert.ErrorIs(t, e, cause)
}

func TestIllegalArgumentError(t *testing.T) {
	e := IllegalArgumentError("test bundle is missing")
	assert.Equal(t, IllegalArgument, e.Code)
}

func TestXcodebuildTestErrorfFormats(t *testing.T) {
	e := XcodebuildTestErrorf("Run called before Prepare (session %s)", "abc123")
	assert.Equal(t, XcodebuildTestError, e.Code)
	assert.Contains(t, e.Message, "abc123")
}
