package onboarding

import (
	"context"
	"os"
	"sync"

	"github.com/m3rciful/receiverbot/internal/domain"
	"github.com/m3rciful/receiverbot/internal/provider"
)

type submitResult struct {
	challenge provider.Challenge
	err       error
}

// fakeClient answers SubmitChallenge from a per-input script and writes the
// session file on connect the way a real client would.
type fakeClient struct {
	mu          sync.Mutex
	opts        provider.Options
	script      map[string]submitResult
	connectErr  error
	enableErr   error
	limited     bool
	hooks       map[string]func()
	hold        string
	entered     chan struct{}
	release     chan struct{}
	proxy       *domain.ProxyDescriptor
	inputs      []string
	calls       []string
	disconnects int
}

func (f *fakeClient) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	hook := f.hooks[call]
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (f *fakeClient) Connect(context.Context) error {
	f.record("connect")
	if f.connectErr != nil {
		return f.connectErr
	}
	return os.WriteFile(f.opts.SessionPath, []byte("auth"), 0o600)
}

func (f *fakeClient) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeClient) SubmitChallenge(_ context.Context, input string) (provider.Challenge, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	res, ok := f.script[input]
	f.mu.Unlock()
	if input == f.hold && f.hold != "" {
		close(f.entered)
		<-f.release
	}
	if !ok {
		return provider.ChallengeNone, provider.Wrap(provider.ClassInvalidInput, "PHONE_CODE_INVALID", context.Canceled)
	}
	return res.challenge, res.err
}

func (f *fakeClient) Logout(context.Context) error { f.record("logout"); return nil }

func (f *fakeClient) SetPresence(_ context.Context, online bool) error {
	if online {
		f.record("online")
	} else {
		f.record("offline")
	}
	return nil
}

func (f *fakeClient) DisableLiveEvents() { f.record("no_events") }

func (f *fakeClient) UpdateBio(context.Context, string) error { f.record("bio"); return nil }

func (f *fakeClient) EnableSecondaryPassword(context.Context, string, string) error {
	f.record("password.enable")
	return f.enableErr
}

func (f *fakeClient) DisableSecondaryPassword(context.Context, string) error {
	f.record("password.disable")
	return nil
}

func (f *fakeClient) CheckReportStatus(context.Context) (bool, error) {
	f.record("report")
	return f.limited, nil
}

func (f *fakeClient) BindProxy(p domain.ProxyDescriptor) { f.proxy = &p }

type fakeFactory struct {
	mu      sync.Mutex
	builds  int
	next    func() *fakeClient
	clients []*fakeClient
}

func (f *fakeFactory) Build(opts provider.Options) (provider.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds++
	c := f.next()
	c.opts = opts
	f.clients = append(f.clients, c)
	return c, nil
}

func (f *fakeFactory) last() *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clients) == 0 {
		return nil
	}
	return f.clients[len(f.clients)-1]
}

type staticPolicy domain.Policy

func (p staticPolicy) Policy(context.Context) (domain.Policy, error) { return domain.Policy(p), nil }

type fixedProxy struct {
	d  domain.ProxyDescriptor
	ok bool
}

func (p fixedProxy) Select(context.Context) (domain.ProxyDescriptor, bool) { return p.d, p.ok }
