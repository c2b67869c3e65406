// Command discarchived runs the disc archiving daemon in the foreground, for
// service managers that supervise the process themselves.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newDaemonCommand().ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
