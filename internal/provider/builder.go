package provider

import (
	"errors"

	"github.com/m3rciful/receiverbot/internal/domain"
)

// Builder assembles provider clients. Each flow starts from a fresh builder so
// a device fingerprint is always injected before the client connects.
type Builder struct {
	factory Factory
	opts    Options
}

// NewBuilder returns a builder backed by factory.
func NewBuilder(factory Factory) *Builder {
	return &Builder{factory: factory}
}

// WithDevice sets the device fingerprint presented on connect.
func (b *Builder) WithDevice(d domain.DeviceFingerprint) *Builder {
	b.opts.Device = d
	return b
}

// WithSessionPath sets where the provider session is persisted.
func (b *Builder) WithSessionPath(path string) *Builder {
	b.opts.SessionPath = path
	return b
}

// WithProtocolLog toggles verbose provider protocol logging.
func (b *Builder) WithProtocolLog(enabled bool) *Builder {
	b.opts.ProtocolLog = enabled
	return b
}

// WithLabel tags the client in logs.
func (b *Builder) WithLabel(label string) *Builder {
	b.opts.Label = label
	return b
}

// Build constructs the client.
func (b *Builder) Build() (Client, error) {
	if b.factory == nil {
		return nil, errors.New("provider: nil factory")
	}
	if b.opts.SessionPath == "" {
		return nil, errors.New("provider: session path is required")
	}
	if b.opts.Device.Model == "" {
		return nil, errors.New("provider: device fingerprint is required")
	}
	return b.factory(b.opts)
}
