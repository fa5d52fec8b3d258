// Package cli defines the mailgate command tree.
package cli

import (
	"os"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/kwarren/mailgate/internal/config"
	"github.com/kwarren/mailgate/internal/output"
)

var Version = "0.3.0"

type Globals struct {
	Config   string `help:"Path to config file" short:"c" type:"path"`
	JSON     bool   `help:"Output command results as JSON" name:"json"`
	LogLevel string `help:"Log level (debug, info, warn, error)" name:"log-level" default:"info"`
}

type CLI struct {
	Globals

	Serve   ServeCmd   `cmd:"" help:"Serve gateway operations over stdio"`
	Account AccountCmd `cmd:"" help:"Account management"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// Context carries what every command needs. Configuration is loaded
// lazily: version and password commands must work before any account is
// configured.
type Context struct {
	Globals *Globals
	Logger  log.Logger
	Printer *output.Printer
}

func NewContext(globals *Globals) *Context {
	return &Context{
		Globals: globals,
		Logger:  newLogger(globals.LogLevel),
		Printer: output.New(os.Stdout, globals.JSON),
	}
}

// LoadConfig resolves the effective configuration for commands that need
// accounts.
func (c *Context) LoadConfig() (*config.Config, error) {
	return config.Load(c.Globals.Config)
}

// newLogger builds a leveled logfmt logger on stderr. Stdout stays free
// for protocol traffic and command results.
func newLogger(lvl string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = level.NewFilter(logger, levelOption(lvl))
	return log.With(logger, "ts", log.DefaultTimestampUTC)
}

func levelOption(lvl string) level.Option {
	switch lvl {
	case "debug":
		return level.AllowDebug()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}
