package mtproto

import (
	"errors"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tgerr"

	"github.com/m3rciful/receiverbot/internal/provider"
)

// classify translates gotd errors into the provider taxonomy using the RPC
// error type only.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pe *provider.Error
	if errors.As(err, &pe) {
		return err
	}
	if _, ok := tgerr.AsFloodWait(err); ok {
		return provider.Wrap(provider.ClassRateLimited, "FLOOD_WAIT", err)
	}
	if rpc, ok := tgerr.As(err); ok {
		class := provider.ClassifyCode(rpc.Type)
		if class == provider.ClassUnknown && rpc.Code >= 500 {
			class = provider.ClassTransient
		}
		return provider.Wrap(class, rpc.Type, err)
	}
	if errors.Is(err, auth.ErrPasswordInvalid) {
		return provider.Wrap(provider.ClassInvalidInput, "PASSWORD_HASH_INVALID", err)
	}
	if provider.ClassOf(err) == provider.ClassTransient {
		return provider.Wrap(provider.ClassTransient, "", err)
	}
	return err
}
