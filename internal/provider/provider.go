// Package provider defines the boundary to the account authentication
// provider: the client contract, the builder used to construct clients and the
// closed failure taxonomy produced from provider error codes.
package provider

import (
	"context"

	"github.com/m3rciful/receiverbot/internal/domain"
)

// Challenge is what the provider asks for after an input was submitted.
type Challenge string

const (
	// ChallengeNone means the login completed.
	ChallengeNone Challenge = ""
	// ChallengeCode asks for the verification code.
	ChallengeCode Challenge = "verification_code"
	// ChallengePassword asks for the secondary password.
	ChallengePassword Challenge = "password"
)

// Client is a single, not-yet-committed provider connection.
//
// SubmitChallenge is fed the phone number first, then whatever the previous
// call asked for. The client tracks its own login stage.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	SubmitChallenge(ctx context.Context, input string) (Challenge, error)
	Logout(ctx context.Context) error

	SetPresence(ctx context.Context, online bool) error
	DisableLiveEvents()
	UpdateBio(ctx context.Context, text string) error
	EnableSecondaryPassword(ctx context.Context, newPassword, hint string) error
	DisableSecondaryPassword(ctx context.Context, current string) error
	CheckReportStatus(ctx context.Context) (bool, error)

	BindProxy(p domain.ProxyDescriptor)
}

// Options carries everything a Factory needs to construct a client.
type Options struct {
	Device      domain.DeviceFingerprint
	SessionPath string
	ProtocolLog bool
	// Label identifies the flow in provider logs, usually the phone number.
	Label string
}

// Factory constructs an unconnected client.
type Factory func(opts Options) (Client, error)
