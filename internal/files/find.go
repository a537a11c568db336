package files

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Find lists the regular files in dir whose names match pattern, sorted by
// name. The pattern is a regular expression that must match the whole name
// ("left.*pgm"); if it does not compile, it is tried as a shell glob
// ("left_[0-9]*.pgm").
func Find(dir, pattern string) ([]string, error) {
	if pattern == "" {
		return nil, errors.New("empty file pattern")
	}
	match, err := matcher(pattern)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", dir)
	}

	var paths []string
	for _, e := range entries {
		if !e.Type().IsRegular() && e.Type()&os.ModeSymlink == 0 {
			continue
		}
		if match(e.Name()) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// FindChannel resolves a channel pattern relative to base. A directory part
// in the pattern (everything up to the last '/') is joined to base, and only
// the remainder is matched against file names.
func FindChannel(base, pattern string) ([]string, error) {
	dir := base
	if i := strings.LastIndex(pattern, "/"); i >= 0 {
		dir = filepath.Join(base, pattern[:i])
		pattern = pattern[i+1:]
	}
	return Find(dir, pattern)
}

func matcher(pattern string) (func(string) bool, error) {
	if re, err := regexp.Compile("^(?:" + pattern + ")$"); err == nil {
		return re.MatchString, nil
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, errors.Errorf("pattern '%s' is neither a regular expression nor a glob", pattern)
	}
	return func(name string) bool {
		ok, _ := filepath.Match(pattern, name)
		return ok
	}, nil
}

// CheckReadable verifies that every path can be opened for reading.
func CheckReadable(paths []string) error {
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return errors.Wrap(err, "unreadable file")
		}
		f.Close()
	}
	return nil
}
