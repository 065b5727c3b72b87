// Command ltq is the LTQ CLI entrypoint: run, clear, size against a
// Registry of Workers/Apps that main fills by calling each target package's
// Register(reg), the way a Celery-style "module:symbol" target is replaced
// by an explicit in-process registration in a compiled language.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/tclesius/ltq/examples/emailworker"
	"github.com/tclesius/ltq/ltqcli"
)

func main() {
	reg := ltqcli.NewRegistry()
	emailworker.Register(reg)

	root := ltqcli.NewRootCmd(reg)
	root.SilenceUsage = true
	root.SilenceErrors = true

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		var ue *ltqcli.UsageError
		if errors.As(err, &ue) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
