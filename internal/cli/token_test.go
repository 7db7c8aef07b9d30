package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"creditsystem/internal/handler"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	path := writeConfig(t, "auth:\n  jwt_secret: cli-secret\n  issuer: economy-test\n")

	out, err := runCLI(t, "token", "42", "--config", path, "--role", handler.RoleService)
	require.NoError(t, err)

	claims := &handler.Claims{}
	_, err = jwt.ParseWithClaims(strings.TrimSpace(out), claims, func(*jwt.Token) (interface{}, error) {
		return []byte("cli-secret"), nil
	}, jwt.WithIssuer("economy-test"))
	require.NoError(t, err)
	assert.Equal(t, "42", claims.Subject)
	assert.Equal(t, handler.RoleService, claims.Role)
}

func TestTokenCommandRejectsBadInput(t *testing.T) {
	path := writeConfig(t, "auth:\n  jwt_secret: cli-secret\n")

	_, err := runCLI(t, "token", "abc", "--config", path)
	assert.Error(t, err)

	_, err = runCLI(t, "token", "7", "--config", path, "--role", "admin")
	assert.Error(t, err)

	_, err = runCLI(t, "token", "7", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "--role", handler.RoleUser)
	assert.Error(t, err)
}
