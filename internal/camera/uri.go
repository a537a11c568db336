package camera

import (
	"strings"

	"github.com/lanikai/camhal/internal/props"
)

// A URI names a driver, its properties and the resource it reads:
//
//	driver:[key=value,key=value]//resource
//
// The property list and resource are optional; "filereader://data",
// "filereader:[Loop]//data" and "v4l2:[Width=640]///dev/video0" are all valid.
type URI struct {
	Scheme     string
	Properties *props.Map
	Resource   string
}

// ParseURI splits a camera URI into its parts.
func ParseURI(s string) (*URI, error) {
	s = strings.TrimSpace(s)
	i := strings.Index(s, ":")
	if i <= 0 {
		if s == "" || strings.ContainsAny(s, "[]/") {
			return nil, ConfigError("uri '%s': missing driver name", s)
		}
		// A bare driver name.
		return &URI{Scheme: s, Properties: props.New()}, nil
	}

	u := &URI{Scheme: s[:i]}
	rest := s[i+1:]

	if strings.HasPrefix(rest, "[") {
		end := matchingBracket(rest)
		if end < 0 {
			return nil, ConfigError("uri '%s': unterminated property list", s)
		}
		p, err := props.Parse(rest[1:end])
		if err != nil {
			return nil, wrapConfig(err)
		}
		u.Properties = p
		rest = rest[end+1:]
	} else {
		u.Properties = props.New()
	}

	if rest != "" && !strings.HasPrefix(rest, "//") {
		return nil, ConfigError("uri '%s': expected '//' before resource", s)
	}
	u.Resource = strings.TrimPrefix(rest, "//")
	return u, nil
}

// matchingBracket returns the index of the ']' closing the '[' at s[0].
func matchingBracket(s string) int {
	depth := 0
	for i, c := range s {
		switch c {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func (u *URI) String() string {
	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteByte(':')
	if u.Properties != nil && len(u.Properties.Keys()) > 0 {
		b.WriteByte('[')
		b.WriteString(u.Properties.Encode())
		b.WriteByte(']')
	}
	if u.Resource != "" {
		b.WriteString("//")
		b.WriteString(u.Resource)
	}
	return b.String()
}
