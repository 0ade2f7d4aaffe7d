package logger

import (
	"log"
	"os"
)

// New returns the process logger every component receives explicitly. The
// daemon logs sync-pass summaries and per-source failures; plain stdout lines
// cover that, with Prometheus carrying the numeric side.
func New() *log.Logger {
	return log.New(os.Stdout, "", log.LstdFlags)
}
