package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

const envVar = "LOGLEVEL"

type tagLevel struct {
	tag   string
	level Level
}

var (
	tagLevelsMu sync.RWMutex
	tagLevels   []tagLevel

	// Loggers derived with WithTag, re-leveled by Configure.
	tagged []*Logger
)

func init() {
	if err := Configure(os.Getenv(envVar)); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid %s: %s\n", envVar, err)
	}
}

// Configure applies comma-separated "tag=level" directives. A directive
// without "tag=" sets the default level. Tagged loggers that already exist
// are updated too, so call it before logging starts.
func Configure(directives string) error {
	defer relevel()

	var firstErr error
	for _, d := range strings.Split(directives, ",") {
		if d == "" {
			continue
		}
		v := strings.SplitN(d, "=", 2)
		level, err := parseLevel(v[len(v)-1])
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("directive '%s': %v", d, err)
			}
			continue
		}
		if len(v) == 1 {
			defaultLevel = level
			DefaultLogger.Level = level
			continue
		}
		tagLevelsMu.Lock()
		tagLevels = append(tagLevels, tagLevel{v[0], level})
		tagLevelsMu.Unlock()
	}
	return firstErr
}

func track(log *Logger) *Logger {
	tagLevelsMu.Lock()
	tagged = append(tagged, log)
	tagLevelsMu.Unlock()
	return log
}

func relevel() {
	tagLevelsMu.RLock()
	loggers := append([]*Logger(nil), tagged...)
	tagLevelsMu.RUnlock()

	for _, log := range loggers {
		log.Level = determineLevel(log.Tag, defaultLevel)
	}
}

func determineLevel(tag string, fallback Level) Level {
	tagLevelsMu.RLock()
	defer tagLevelsMu.RUnlock()

	// Later directives win.
	for i := len(tagLevels) - 1; i >= 0; i-- {
		if tagLevels[i].tag == tag {
			return tagLevels[i].level
		}
	}
	return fallback
}
