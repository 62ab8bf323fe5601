// Package klog is the ambient logging shim: the server package logs accept
// and dispatch failures through it, and the demo binary uses it for fatal
// startup failures and in its error handler. It is a thin wrapper
// around logrus rather than a hand-rolled formatter, matching the logging
// stack the rest of the retrieval pack reaches for (nabbar-golib's logger
// package and buffkit both require github.com/sirupsen/logrus).
package klog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// L is the package-level logger. Workers and the default error handler log
// through it; the hot path (parser, broker, router) never touches it.
var L = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// Fatal logs at Fatal level and exits, matching the "fatal errors always terminate" policy:
// failure to create the notifier's file descriptors at startup terminates
// the process.
func Fatal(msg string, err error) {
	L.WithError(err).Fatal(msg)
}
