// Package logging builds the logrus.Logger every other package accepts,
// matching the teacher's own structured-logging convention (fs.Logf/
// fs.Debugf funnel into logrus-backed output). Output is colorized when
// stderr is an attached terminal, the same trade-off rclone's own
// lib/terminal colorization makes for interactive runs versus piped/
// redirected output.
package logging

import (
	"os"

	"github.com/mattn/go-colorable"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// New builds a logger writing to stderr, at Debug level when verbose is
// set and Info otherwise, with colorized output only when stderr is a
// real terminal (so redirecting to a file or a log collector gets plain
// text).
func New(verbose bool) *logrus.Logger {
	log := logrus.New()
	level := logrus.InfoLevel
	if verbose {
		level = logrus.DebugLevel
	}
	log.SetLevel(level)

	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.SetOutput(colorable.NewColorableStderr())
		log.SetFormatter(&logrus.TextFormatter{ForceColors: true, FullTimestamp: true})
	} else {
		log.SetOutput(os.Stderr)
		log.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	}
	return log
}
