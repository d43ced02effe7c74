package util

import (
	"fmt"
	"os"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"github.com/luiz158/backup.sh/pkg/errors"
)

// HandleFatalError prints the user-facing message for err and exits with
// a non-zero status. It's meant to be the last call on a fatal path.
func HandleFatalError(err error) {
	log.WithError(err).Debug("Fatal error")
	fmt.Fprintln(os.Stderr, errors.GetPrintableMessage(err))
	os.Exit(1)
}

// HandlePanic recovers from panics in the main goroutine so that we can
// print something more helpful than a bare stack trace. It should be
// installed with `defer` at the top of main.
func HandlePanic() {
	r := recover()
	if r == nil {
		return
	}

	fmt.Fprintf(os.Stderr, "Backup crashed: %v\n\n%s", r, debug.Stack())
	os.Exit(1)
}
