package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/program_portal/internal/app/domain/principal"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("PORTAL_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 5, cfg.Identifiers.MaxAttempts)
	assert.Equal(t, []principal.Role{principal.RoleSuperAdmin, principal.RoleAdmin}, cfg.AdminRoles())
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := writeFile(t, dir, "portal.yaml", `
server:
  addr: ":9000"
  read_timeout: 5s
database:
  driver: postgres
  dsn: postgres://portal@localhost/portal
identifiers:
  max_attempts: 8
auth:
  admin_roles: "Program_Officer, admin"
`)
	t.Setenv("PORTAL_HTTP_ADDR", ":9100")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Server.Addr, "env wins over file")
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout, "defaults survive")
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 8, cfg.Identifiers.MaxAttempts)
	assert.Equal(t, "debug", cfg.LoggerConfig().Level)
	assert.Equal(t, []principal.Role{"program_officer", "admin"}, cfg.AdminRoles())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	writeFile(t, dir, ".env", "PORTAL_ALLOC_MAX_ATTEMPTS=11\n")
	t.Setenv("PORTAL_CONFIG", "")
	t.Cleanup(func() { os.Unsetenv("PORTAL_ALLOC_MAX_ATTEMPTS") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 11, cfg.Identifiers.MaxAttempts)
}

func TestLoadExplicitMissingFile(t *testing.T) {
	chdir(t, t.TempDir())
	_, err := Load("nope.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Database.Driver = "postgres"
	assert.Error(t, cfg.Validate())
	cfg.Database.DSN = "postgres://x"
	assert.NoError(t, cfg.Validate())

	cfg.Database.Driver = "mongo"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Identifiers.MaxAttempts = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Auth.AdminRoles = " , "
	assert.Error(t, cfg.Validate())
}
