// Command asistencia is the offline-first field attendance client and its
// gateway server.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/vivacius/asistenciacampo/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
