package commands_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"todosync/internal/commands"
	"todosync/internal/config"
	"todosync/internal/credential"
	"todosync/internal/exitcode"
	"todosync/internal/service"
)

const oauthClient = `{"installed":{"client_id":"test","client_secret":"test","redirect_uris":["http://localhost"]}}`

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// TestLoginCommand_NoOAuthClient verifies login fails without oauth_client.json
func TestLoginCommand_NoOAuthClient(t *testing.T) {
	stdout, stderr, code := runCommand(t, &commands.LoginCmd{}, nil, newConfig(t, false))

	if code != exitcode.AuthError {
		t.Errorf("expected exit code %d, got %d", exitcode.AuthError, code)
	}
	if stdout != "" {
		t.Errorf("expected no stdout, got %q", stdout)
	}
	if !strings.HasPrefix(stderr, "error: oauth_client.json not found in ") {
		t.Errorf("expected missing oauth_client.json message, got %q", stderr)
	}
}

// TestLoginCommand_NoRefreshToken verifies login proceeds when the stored
// token cannot be refreshed.
func TestLoginCommand_NoRefreshToken(t *testing.T) {
	cfg := newConfig(t, false)
	writeFile(t, cfg.OAuthClientPath(), oauthClient)
	writeFile(t, cfg.TokenPath(), `{"access_token":"test","token_type":"Bearer","expiry":"2020-01-01T00:00:00Z"}`)
	ids := &credential.IdentityFile{Path: cfg.IdentityPath()}
	if err := ids.Save(service.Identity{ID: "42"}); err != nil {
		t.Fatal(err)
	}

	// Cancelled so the flow stops instead of waiting for the OAuth callback.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out, errOut lockedBuffer
	code := (&commands.LoginCmd{}).Run(ctx, cfg, nil, nil, &out, &errOut)

	if out.String() == "already logged in\n" {
		t.Error("should not say 'already logged in' with token missing refresh_token")
	}
	if code != exitcode.AuthError {
		t.Errorf("expected exit code %d, got %d", exitcode.AuthError, code)
	}
}

func TestLoginCommand_LocalBackend(t *testing.T) {
	cfg := newConfig(t, false)
	cfg.Settings.Backend = config.BackendSQLite
	cfg.Settings.User = "alice"

	stdout, _, code := runCommand(t, &commands.LoginCmd{}, nil, cfg)
	expect(t, code, exitcode.Success, stdout, "ok\n")

	stdout, _, code = runCommand(t, &commands.WhoamiCmd{}, nil, cfg)
	expect(t, code, exitcode.Success, stdout, "alice\n")
}

func TestLoginCommand_LocalBackendWithoutUser(t *testing.T) {
	cfg := newConfig(t, false)
	cfg.Settings.Backend = config.BackendRedis
	cfg.Settings.User = ""

	_, stderr, code := runCommand(t, &commands.LoginCmd{}, nil, cfg)
	if code != exitcode.UserError {
		t.Errorf("expected exit code %d, got %d", exitcode.UserError, code)
	}
	if !strings.HasPrefix(stderr, "error: no user configured") {
		t.Errorf("unexpected stderr %q", stderr)
	}
}

func TestWhoamiCommand_NotLoggedIn(t *testing.T) {
	_, stderr, code := runCommand(t, &commands.WhoamiCmd{}, nil, newConfig(t, false))
	expect(t, code, exitcode.AuthError, stderr, "error: not logged in (run: todosync login)\n")
}

func TestWhoamiCommand_WithEmail(t *testing.T) {
	cfg := newConfig(t, false)
	ids := &credential.IdentityFile{Path: cfg.IdentityPath()}
	if err := ids.Save(service.Identity{ID: "42", Email: "ada@example.com"}); err != nil {
		t.Fatal(err)
	}

	stdout, _, code := runCommand(t, &commands.WhoamiCmd{}, nil, cfg)
	expect(t, code, exitcode.Success, stdout, "ada@example.com (42)\n")
}

// TestLogoutCommand_RemovesCredentials verifies logout removes the token and
// identity but keeps oauth_client.json.
func TestLogoutCommand_RemovesCredentials(t *testing.T) {
	cfg := newConfig(t, false)
	writeFile(t, cfg.OAuthClientPath(), oauthClient)
	writeFile(t, cfg.TokenPath(), `{"access_token":"test","refresh_token":"test"}`)
	writeFile(t, cfg.IdentityPath(), `{"id":"42"}`)

	stdout, stderr, code := runCommand(t, &commands.LogoutCmd{}, nil, cfg)
	expect(t, code, exitcode.Success, stdout, "ok\n")
	if stderr != "" {
		t.Errorf("expected no stderr, got %q", stderr)
	}

	for _, path := range []string{cfg.TokenPath(), cfg.IdentityPath()} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("%s should have been deleted", filepath.Base(path))
		}
	}
	if _, err := os.Stat(cfg.OAuthClientPath()); err != nil {
		t.Error("oauth_client.json should NOT have been deleted")
	}
}

func TestLogoutCommand_LocalIdentityOnly(t *testing.T) {
	cfg := newConfig(t, false)
	writeFile(t, cfg.IdentityPath(), `{"id":"alice"}`)

	stdout, _, code := runCommand(t, &commands.LogoutCmd{}, nil, cfg)
	expect(t, code, exitcode.Success, stdout, "ok\n")

	_, _, code = runCommand(t, &commands.WhoamiCmd{}, nil, cfg)
	if code != exitcode.AuthError {
		t.Errorf("expected whoami to fail after logout, got %d", code)
	}
}

func TestLogoutCommand_NotLoggedIn(t *testing.T) {
	stdout, stderr, code := runCommand(t, &commands.LogoutCmd{}, nil, newConfig(t, false))
	expect(t, code, exitcode.Success, stdout, "not logged in\n")
	if stderr != "" {
		t.Errorf("expected no stderr, got %q", stderr)
	}

	stdout, _, code = runCommand(t, &commands.LogoutCmd{}, nil, newConfig(t, true))
	expect(t, code, exitcode.Success, stdout, "")
}
