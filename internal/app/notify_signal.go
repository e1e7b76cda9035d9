package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewOrigin returns a writer identity for change signals: the pid plus a
// random suffix, so two stores opened by one OS process stay distinct.
func NewOrigin() string {
	return strconv.Itoa(os.Getpid()) + "." + uuid.NewString()[:8]
}

// TouchChangeSignal writes a revision ("<origin>:<unixnano>") to the signal
// file so watchers in other processes sharing the directory can detect store
// writes. Creates parent dir and file if needed.
func TouchChangeSignal(signalPath, origin string) error {
	if signalPath == "" {
		return nil
	}
	dir := filepath.Dir(signalPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create signal file dir: %w", err)
	}
	rev := origin + ":" + strconv.FormatInt(time.Now().UnixNano(), 10)
	return os.WriteFile(signalPath, []byte(rev), 0644)
}

// revisionOrigin returns the origin part of a revision.
func revisionOrigin(rev string) string {
	i := strings.LastIndex(rev, ":")
	if i < 0 {
		return ""
	}
	return rev[:i]
}
