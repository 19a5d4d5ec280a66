package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/receiverbot/internal/domain"
	"github.com/m3rciful/receiverbot/internal/provider"
)

type countingClient struct {
	provider.Client
	disconnects atomic.Int32
}

func (c *countingClient) Disconnect(context.Context) error {
	c.disconnects.Add(1)
	return nil
}

func TestCacheTakeIsExclusive(t *testing.T) {
	c := NewCache()
	c.Put(1, &Session{UserID: 1})

	var wg sync.WaitGroup
	var taken atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := c.Take(1); ok {
				taken.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, taken.Load())
	assert.False(t, c.Contains(1))
	assert.Zero(t, c.Len())
}

func TestSessionCloseOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "15551234.session")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	client := &countingClient{}
	s := &Session{UserID: 1, Phone: domain.Phone{E164: "+15551234"}, Client: client, ArtifactPath: path}

	require.NoError(t, s.Close(context.Background(), false))
	_, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, s.Close(context.Background(), true))
	assert.EqualValues(t, 1, client.disconnects.Load())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestCacheDrain(t *testing.T) {
	c := NewCache()
	c.Put(1, &Session{UserID: 1})
	c.Put(2, &Session{UserID: 2})
	assert.Len(t, c.Drain(), 2)
	assert.Zero(t, c.Len())
}
