package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromFile_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  postgres:
    host: localhost
    database: delivery
    user: delivery
identity:
  base_url: http://identity:8080
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5432, cfg.Database.Postgres.Port)
	assert.Equal(t, 3, cfg.Guard.MaxAttempts)
	assert.Equal(t, "+1", cfg.Notifications.SMS.DefaultCountryCode)
	assert.Equal(t, 10, cfg.Notifications.SMS.MinDigits)
	assert.Equal(t, 64, cfg.Realtime.SendBuffer)
	assert.Equal(t, "notifications", cfg.Notifications.AuditIndex)
	assert.Equal(t, 2*time.Second, GetDuration(cfg.Guard.Timeout))
}

func TestLoadFromFile_EnvOverride(t *testing.T) {
	path := writeConfig(t, `
database:
  postgres:
    host: localhost
    database: delivery
    user: delivery
identity:
  base_url: http://identity:8080
guard:
  max_attempts: 2
`)
	t.Setenv("GUARD_MAX_ATTEMPTS", "5")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Guard.MaxAttempts)
}

func TestLoadFromFile_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing identity",
			content: `
database:
  postgres: {host: localhost, database: delivery, user: delivery}
`,
			wantErr: "identity.base_url is required",
		},
		{
			name: "relay without redis",
			content: `
database:
  postgres: {host: localhost, database: delivery, user: delivery}
identity: {base_url: "http://identity"}
realtime: {relay_enabled: true}
`,
			wantErr: "database.redis.address is required",
		},
		{
			name: "email without sender",
			content: `
database:
  postgres: {host: localhost, database: delivery, user: delivery}
identity: {base_url: "http://identity"}
notifications:
  email: {enabled: true}
`,
			wantErr: "from_email is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=d sslmode=disable", p.GetDSN())
}
