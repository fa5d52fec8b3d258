package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/kwarren/mailgate/internal/cli"
)

func main() {
	var c cli.CLI

	parser := kong.Must(&c,
		kong.Name("mailgate"),
		kong.Description("IMAP gateway serving bounded mailbox operations over stdio"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	ctx, err := parser.Parse(os.Args[1:])
	if err != nil {
		parser.FatalIfErrorf(err)
	}

	execCtx := cli.NewContext(&c.Globals)
	if err := ctx.Run(execCtx); err != nil {
		if execCtx.Printer.JSON {
			_ = execCtx.Printer.Result(map[string]any{
				"success": false,
				"error":   err.Error(),
			})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
