package commands

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"todosync/internal/config"
	"todosync/internal/credential"
	"todosync/internal/exitcode"
	"todosync/internal/service"
)

func init() {
	Register(&LogoutCmd{})
}

// LogoutCmd implements the logout command.
type LogoutCmd struct{}

func (c *LogoutCmd) Name() string      { return "logout" }
func (c *LogoutCmd) Aliases() []string { return nil }
func (c *LogoutCmd) Synopsis() string  { return "Remove stored credentials" }
func (c *LogoutCmd) Usage() string     { return "todosync logout [common flags]" }
func (c *LogoutCmd) NeedsAuth() bool   { return false }

func (c *LogoutCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *LogoutCmd) Run(ctx context.Context, cfg *config.Config, svc service.Backend, args []string, out, errOut io.Writer) int {
	ids := &credential.IdentityFile{Path: cfg.IdentityPath()}
	_, err := ids.CurrentUser(ctx)
	signedIn := err == nil

	tokens, err := credential.Open(cfg)
	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.AuthError
	}
	switch err := tokens.Remove(); {
	case err == nil:
		signedIn = true
	case errors.Is(err, credential.ErrNoToken):
	default:
		fmt.Fprintf(errOut, "error: failed to remove token: %v\n", err)
		return exitcode.AuthError
	}

	if err := ids.Remove(); err != nil {
		fmt.Fprintf(errOut, "error: failed to remove identity: %v\n", err)
		return exitcode.AuthError
	}

	if !signedIn {
		if !cfg.Quiet {
			fmt.Fprintln(out, "not logged in")
		}
		return exitcode.Success
	}
	return ok(cfg, out)
}
