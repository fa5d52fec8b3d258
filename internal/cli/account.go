package cli

import (
	"fmt"
	"os"
	"sort"

	"golang.org/x/term"

	"github.com/kwarren/mailgate/internal/apperr"
	"github.com/kwarren/mailgate/internal/config"
	"github.com/kwarren/mailgate/internal/directory"
)

type AccountCmd struct {
	List        AccountListCmd        `cmd:"" help:"List configured accounts"`
	SetPassword AccountSetPasswordCmd `cmd:"" name:"set-password" help:"Store an account password in the system keyring"`
}

type AccountListCmd struct{}

func (c *AccountListCmd) Run(ctx *Context) error {
	cfg, err := ctx.LoadConfig()
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(cfg.Accounts))
	for id := range cfg.Accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if ctx.Printer.JSON {
		// Account serialization redacts the password field.
		accounts := make([]config.Account, 0, len(ids))
		for _, id := range ids {
			accounts = append(accounts, cfg.Accounts[id])
		}
		return ctx.Printer.Result(accounts)
	}

	table := ctx.Printer.NewTable("ACCOUNT", "HOST", "USER")
	for _, id := range ids {
		acct := cfg.Accounts[id]
		table.AddRow(acct.ID, acct.Addr(), acct.User)
	}
	return table.Flush()
}

type AccountSetPasswordCmd struct {
	Account string `arg:"" help:"Account ID from the configuration"`
}

func (c *AccountSetPasswordCmd) Run(ctx *Context) error {
	cfg, err := ctx.LoadConfig()
	if err != nil {
		return err
	}
	acct, err := directory.New(cfg).Lookup(c.Account)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Password for %s (%s): ", acct.ID, acct.User)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, err, "reading password")
	}
	if len(password) == 0 {
		return apperr.New(apperr.KindInvalidInput, "password must not be empty")
	}

	if err := config.SetKeyringPassword(acct.User, string(password)); err != nil {
		return err
	}
	return ctx.Printer.Successf("password stored in keyring for account %q", acct.ID)
}
