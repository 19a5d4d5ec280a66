// Package proxy holds the SOCKS5 proxy pool used for provider connections.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/net/proxy"
	"gopkg.in/yaml.v3"

	"github.com/m3rciful/receiverbot/core/logger"
	"github.com/m3rciful/receiverbot/internal/domain"
)

// DefaultProbeAddr is the endpoint a proxy must reach to be usable.
const DefaultProbeAddr = "core.telegram.org:443"

// ErrEmptyPool is returned when a pick is attempted on an empty pool.
var ErrEmptyPool = errors.New("proxy: pool is empty")

// Prober checks that d can reach the probe endpoint.
type Prober func(ctx context.Context, d domain.ProxyDescriptor) error

// Pool is a copy-on-write list of proxies. Readers never block writers.
type Pool struct {
	list  atomic.Pointer[[]domain.ProxyDescriptor]
	probe Prober
	intn  func(n int) int
}

// Option customizes a Pool.
type Option func(*Pool)

// WithProber replaces the SOCKS5 dial probe.
func WithProber(p Prober) Option {
	return func(pool *Pool) { pool.probe = p }
}

// WithRand replaces the random index source.
func WithRand(intn func(n int) int) Option {
	return func(pool *Pool) { pool.intn = intn }
}

// NewPool returns an empty pool probing addr with the given timeout.
func NewPool(addr string, timeout time.Duration, opts ...Option) *Pool {
	if addr == "" {
		addr = DefaultProbeAddr
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	p := &Pool{
		probe: DialProber(addr, timeout),
		intn:  rand.IntN,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.list.Store(&[]domain.ProxyDescriptor{})
	return p
}

// Set replaces the whole pool.
func (p *Pool) Set(list []domain.ProxyDescriptor) {
	cp := make([]domain.ProxyDescriptor, len(list))
	copy(cp, list)
	p.list.Store(&cp)
}

// Clear empties the pool.
func (p *Pool) Clear() { p.Set(nil) }

// Count returns the number of proxies.
func (p *Pool) Count() int { return len(*p.list.Load()) }

// RandomPick returns a uniformly random proxy.
func (p *Pool) RandomPick() (domain.ProxyDescriptor, error) {
	list := *p.list.Load()
	if len(list) == 0 {
		return domain.ProxyDescriptor{}, ErrEmptyPool
	}
	return list[p.intn(len(list))], nil
}

// Probe reports whether d is reachable.
func (p *Pool) Probe(ctx context.Context, d domain.ProxyDescriptor) bool {
	err := p.probe(ctx, d)
	if err != nil {
		logger.Debug(ctx, "proxy", "probe.fail",
			slog.String("proxy", Addr(d)),
			logger.Err(err),
		)
	}
	return err == nil
}

// Select makes up to Count random picks and returns the first proxy whose
// probe succeeds. ok is false when none did.
func (p *Pool) Select(ctx context.Context) (d domain.ProxyDescriptor, ok bool) {
	start := time.Now()
	n := p.Count()
	probes := 0
	defer func() {
		logger.Info(ctx, "proxy", "select",
			slog.Int("proxies", n),
			slog.Int("probes", probes),
			slog.Bool("found", ok),
			slog.Duration("duration", time.Since(start)),
		)
	}()
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			return domain.ProxyDescriptor{}, false
		}
		cand, err := p.RandomPick()
		if err != nil {
			return domain.ProxyDescriptor{}, false
		}
		probes++
		if p.Probe(ctx, cand) {
			return cand, true
		}
	}
	return domain.ProxyDescriptor{}, false
}

// Addr formats d as host:port.
func Addr(d domain.ProxyDescriptor) string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// Dialer returns a SOCKS5 dialer through d.
func Dialer(d domain.ProxyDescriptor, timeout time.Duration) (proxy.ContextDialer, error) {
	var auth *proxy.Auth
	if d.Username != "" {
		auth = &proxy.Auth{User: d.Username, Password: d.Password}
	}
	dialer, err := proxy.SOCKS5("tcp", Addr(d), auth, &net.Dialer{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("proxy: socks5 %s: %w", Addr(d), err)
	}
	cd, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("proxy: socks5 %s: dialer has no context support", Addr(d))
	}
	return cd, nil
}

// DialProber opens a connection to addr through the proxy and closes it.
func DialProber(addr string, timeout time.Duration) Prober {
	return func(ctx context.Context, d domain.ProxyDescriptor) error {
		dialer, err := Dialer(d, timeout)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}

// LoadFile reads a YAML or JSON list of proxies.
func LoadFile(path string) ([]domain.ProxyDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("proxy: read %s: %w", path, err)
	}
	var list []domain.ProxyDescriptor
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("proxy: parse %s: %w", path, err)
	}
	out := list[:0]
	for _, d := range list {
		if d.Host == "" || d.Port <= 0 || d.Port > 65535 {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}
