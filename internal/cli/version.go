package cli

import (
	"fmt"
	"runtime"
)

type VersionCmd struct{}

func (c *VersionCmd) Run(ctx *Context) error {
	if ctx.Printer.JSON {
		return ctx.Printer.Result(map[string]any{
			"name":       "mailgate",
			"version":    Version,
			"go_version": runtime.Version(),
			"os":         runtime.GOOS,
			"arch":       runtime.GOARCH,
		})
	}
	fmt.Printf("mailgate version %s (%s, %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	return nil
}
