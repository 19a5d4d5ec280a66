// Package device serves the client fingerprints presented to the provider.
package device

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/m3rciful/receiverbot/internal/domain"
)

// ErrEmpty is returned by Random when the pool has no fingerprints.
var ErrEmpty = errors.New("device: pool is empty")

// Pool is an immutable set of fingerprints.
type Pool struct {
	list []domain.DeviceFingerprint
	intn func(int) int
}

// NewPool keeps the usable entries of list.
func NewPool(list []domain.DeviceFingerprint) *Pool {
	kept := make([]domain.DeviceFingerprint, 0, len(list))
	for _, d := range list {
		if d.Model == "" || d.SystemVersion == "" || d.AppVersion == "" {
			continue
		}
		if d.LangCode == "" {
			d.LangCode = "en"
		}
		kept = append(kept, d)
	}
	return &Pool{list: kept, intn: rand.IntN}
}

// LoadFile builds a pool from a YAML or JSON list.
func LoadFile(path string) (*Pool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("device: read %s: %w", path, err)
	}
	var list []domain.DeviceFingerprint
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("device: parse %s: %w", path, err)
	}
	p := NewPool(list)
	if p.Len() == 0 {
		return nil, fmt.Errorf("device: %s: %w", path, ErrEmpty)
	}
	return p, nil
}

// Len returns the number of fingerprints.
func (p *Pool) Len() int { return len(p.list) }

// Random returns a uniformly chosen fingerprint.
func (p *Pool) Random() (domain.DeviceFingerprint, error) {
	if len(p.list) == 0 {
		return domain.DeviceFingerprint{}, ErrEmpty
	}
	return p.list[p.intn(len(p.list))], nil
}
