package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyCode(t *testing.T) {
	cases := map[string]Class{
		"PHONE_NUMBER_INVALID":       ClassInvalidInput,
		"phone_code_invalid":         ClassInvalidInput,
		"PHONE_NUMBER_FLOOD":         ClassRateLimited,
		"FLOOD_WAIT_30":              ClassRateLimited,
		"PHONE_NUMBER_BANNED":        ClassBanned,
		"SESSION_REVOKED":            ClassRevoked,
		"PHONE_CODE_EXPIRED":         ClassRevoked,
		"FROZEN_METHOD_INVALID":      ClassFrozen,
		"FROZEN_PARTICIPANT_MISSING": ClassFrozen,
		"SOMETHING_ELSE":             ClassUnknown,
		"":                           ClassUnknown,
	}
	for code, want := range cases {
		assert.Equal(t, want, ClassifyCode(code), "code %q", code)
	}
}

func TestClassifyCodeIgnoresFrozenInsideOtherCodes(t *testing.T) {
	assert.Equal(t, ClassUnknown, ClassifyCode("CHAT_NOT_FROZEN_YET"))
}

func TestClassOf(t *testing.T) {
	wrapped := fmt.Errorf("login: %w", Wrap(ClassBanned, "PHONE_NUMBER_BANNED", errors.New("rpc error")))
	assert.Equal(t, ClassBanned, ClassOf(wrapped))

	dial := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	assert.Equal(t, ClassTransient, ClassOf(dial))
	assert.Equal(t, ClassTransient, ClassOf(context.DeadlineExceeded))
	assert.Equal(t, ClassUnknown, ClassOf(errors.New("boom")))
	assert.Equal(t, ClassUnknown, ClassOf(nil))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(ClassBanned, "X", nil))
}

func TestClassTerminal(t *testing.T) {
	assert.False(t, ClassTransient.Terminal())
	assert.False(t, ClassInvalidInput.Terminal())
	assert.True(t, ClassBanned.Terminal())
	assert.True(t, ClassUnknown.Terminal())
}
