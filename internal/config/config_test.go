package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  host: 0.0.0.0
  port: 8080
database:
  host: db.internal
  username: orch
  password: secret
  database: orchestrator
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	t.Setenv("ORCH_DB_PASSWORD", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
	require.Equal(t, "from-env", cfg.Database.Password)
	require.Equal(t, 100, cfg.Queue.GlobalConcurrencyCap)
	require.Equal(t, 5, cfg.Queue.DefaultTenantCap)
	require.Equal(t, "queue-processor", cfg.Queue.AdvisoryLockName)
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{Host: "h", Port: 5432, Username: "u", Password: "p", Database: "db"}
	require.Equal(t, "postgres://u:p@h:5432/db?sslmode=disable", d.DSN())
}

func TestTenantCapFallsBackToDefault(t *testing.T) {
	q := QueueConfig{DefaultTenantCap: 5}
	require.Equal(t, 5, q.TenantCap(0))
	require.Equal(t, 12, q.TenantCap(12))
}
