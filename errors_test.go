package taskkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiscardedErrorMessage(t *testing.T) {
	err := &DiscardedError{TaskID: "tsk_1"}
	assert.Contains(t, err.Error(), "tsk_1")
	assert.Contains(t, err.Error(), "discarded")
}

func TestTaskFailedErrorMessage(t *testing.T) {
	err := &TaskFailedError{TaskID: "tsk_1", Type: "*errors.errorString", Message: "boom"}
	assert.Contains(t, err.Error(), "tsk_1")
	assert.Contains(t, err.Error(), "boom")
}
