package files

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Unknown is returned when no timestamp can be derived.
const Unknown = -1.0

// FilenameTimestamp extracts a timestamp from the base name of path. Every
// maximal run of digits, optionally containing one decimal point, is read as a
// number and the largest wins:
//
//	"Camera_Left_12345.6789.jpg" -> 12345.6789
//	"m0001234.pgm"               -> 1234
//	"frame_12.5"                 -> 12.5
//	"file.png"                   -> Unknown
//
// An extension made only of digits is part of the number.
func FilenameTimestamp(path string) float64 {
	name := filepath.Base(path)
	if ext := filepath.Ext(name); strings.IndexFunc(strings.TrimPrefix(ext, "."), notDigit) >= 0 {
		name = strings.TrimSuffix(name, ext)
	}
	if name == "" {
		return Unknown
	}

	best := Unknown
	for i := 0; i < len(name); {
		if !isDigit(name[i]) {
			i++
			continue
		}
		j := i
		dot := false
		for j < len(name) {
			if isDigit(name[j]) {
				j++
			} else if name[j] == '.' && !dot && j+1 < len(name) && isDigit(name[j+1]) {
				dot = true
				j++
			} else {
				break
			}
		}
		if v, err := strconv.ParseFloat(name[i:j], 64); err == nil && v > best {
			best = v
		}
		i = j
	}
	return best
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func notDigit(r rune) bool {
	return r < '0' || r > '9'
}

// ReadTimestamps parses a sidecar timestamp file: one number per line, where
// the first whitespace-separated field of each line is used. Blank lines and
// lines starting with '#' are skipped.
func ReadTimestamps(r io.Reader) ([]float64, error) {
	var (
		times []float64
		line  int
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.FieldsFunc(text, func(c rune) bool {
			return c == ' ' || c == '\t' || c == ','
		})
		if len(fields) == 0 {
			continue
		}
		field := fields[0]
		t, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, errors.Errorf("line %d: invalid timestamp '%s'", line, field)
		}
		times = append(times, t)
	}
	return times, scanner.Err()
}

// LoadTimestamps reads a sidecar timestamp file from disk.
func LoadTimestamps(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "timestamp file")
	}
	defer f.Close()

	times, err := ReadTimestamps(f)
	return times, errors.Wrap(err, path)
}
