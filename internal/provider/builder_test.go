package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/receiverbot/internal/domain"
)

func TestBuilderInjectsOptions(t *testing.T) {
	var got Options
	factory := func(opts Options) (Client, error) {
		got = opts
		return nil, nil
	}
	dev := domain.DeviceFingerprint{Model: "Pixel 8", SystemVersion: "Android 14", AppVersion: "10.9.1", LangCode: "en"}

	_, err := NewBuilder(factory).
		WithDevice(dev).
		WithSessionPath("/tmp/+15551234.session").
		WithProtocolLog(true).
		WithLabel("+15551234").
		Build()
	require.NoError(t, err)
	assert.Equal(t, dev, got.Device)
	assert.Equal(t, "/tmp/+15551234.session", got.SessionPath)
	assert.True(t, got.ProtocolLog)
	assert.Equal(t, "+15551234", got.Label)
}

func TestBuilderRequiresDeviceAndPath(t *testing.T) {
	factory := func(Options) (Client, error) { return nil, nil }

	_, err := NewBuilder(factory).WithSessionPath("x").Build()
	assert.Error(t, err)

	_, err = NewBuilder(factory).WithDevice(domain.DeviceFingerprint{Model: "m"}).Build()
	assert.Error(t, err)

	_, err = NewBuilder(nil).Build()
	assert.Error(t, err)
}
