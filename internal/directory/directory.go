// Package directory exposes the in-memory account directory. It is built
// once from configuration at startup and read-only afterwards.
package directory

import (
	"github.com/kwarren/mailgate/internal/apperr"
	"github.com/kwarren/mailgate/internal/config"
)

// Directory maps account ids to their connection parameters.
type Directory struct {
	accounts map[string]config.Account
}

// New builds a directory from loaded configuration.
func New(cfg *config.Config) *Directory {
	accounts := make(map[string]config.Account, len(cfg.Accounts))
	for id, acct := range cfg.Accounts {
		accounts[id] = acct
	}
	return &Directory{accounts: accounts}
}

// Lookup returns the account record for id.
func (d *Directory) Lookup(id string) (config.Account, error) {
	acct, ok := d.accounts[id]
	if !ok {
		return config.Account{}, apperr.Newf(apperr.KindNotFound, "account %q is not configured", id)
	}
	return acct, nil
}

// Accounts returns all account ids in no particular order.
func (d *Directory) Accounts() []string {
	ids := make([]string, 0, len(d.accounts))
	for id := range d.accounts {
		ids = append(ids, id)
	}
	return ids
}
