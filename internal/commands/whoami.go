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
	"todosync/internal/output"
	"todosync/internal/service"
)

func init() {
	Register(&WhoamiCmd{})
}

// WhoamiCmd prints the signed-in user.
type WhoamiCmd struct{}

func (c *WhoamiCmd) Name() string      { return "whoami" }
func (c *WhoamiCmd) Aliases() []string { return nil }
func (c *WhoamiCmd) Synopsis() string  { return "Print the signed-in user" }
func (c *WhoamiCmd) Usage() string     { return "todosync whoami" }
func (c *WhoamiCmd) NeedsAuth() bool   { return false }

func (c *WhoamiCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *WhoamiCmd) Run(ctx context.Context, cfg *config.Config, svc service.Backend, args []string, out, errOut io.Writer) int {
	id, err := (&credential.IdentityFile{Path: cfg.IdentityPath()}).CurrentUser(ctx)
	if errors.Is(err, service.ErrNoIdentity) {
		fmt.Fprintln(errOut, "error: not logged in (run: todosync login)")
		return exitcode.AuthError
	}
	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.AuthError
	}
	output.FormatIdentity(out, id)
	return exitcode.Success
}
