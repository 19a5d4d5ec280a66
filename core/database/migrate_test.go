package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountApplied(t *testing.T) {
	files := []string{"0001_init.up.sql", "0002_accounts.up.sql", "0003_settings.up.sql"}
	assert.Equal(t, 2, countApplied(files, 1, 3))
	assert.Equal(t, 0, countApplied(files, 3, 3))
	assert.Equal(t, uint64(2), parseVersion("0002_accounts.up.sql"))
}

func TestConfigURL(t *testing.T) {
	cfg := Config{User: "u", Password: "p", Host: "db", Port: "5432", Name: "receiver"}
	assert.Equal(t, "postgres://u:p@db:5432/receiver?sslmode=disable", cfg.URL())
	assert.True(t, cfg.Enabled())
	assert.False(t, Config{}.Enabled())
}
