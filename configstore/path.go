package configstore

import (
	"strconv"
	"strings"
)

// Separator separates groups in a path.
const Separator = "/"

const (
	parentSegment  = ".."
	currentSegment = "."
)

// Segments splits path into its group names. Empty segments and "." are
// skipped, ".." removes the previous segment (and stays at the root when
// there is none). Names keep the spelling used in path.
func Segments(path string) []string {
	raw := strings.Split(path, Separator)
	out := make([]string, 0, len(raw))
	for _, seg := range raw {
		switch seg {
		case "", currentSegment:
		case parentSegment:
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, seg)
		}
	}
	return out
}

// Clean returns the canonical form of path: no leading or trailing
// separator, ".." resolved, numeric suffixes without leading zeros.
// The root is the empty string.
func Clean(path string) string {
	segs := Segments(path)
	for i := range segs {
		segs[i] = Key(segs[i])
	}
	return strings.Join(segs, Separator)
}

// Join resolves rel against base. An absolute rel (leading separator)
// ignores base.
func Join(base, rel string) string {
	if strings.HasPrefix(rel, Separator) {
		return Clean(rel)
	}
	return Clean(base + Separator + rel)
}

// Split returns the cleaned parent path and the last element of path.
func Split(path string) (dir, name string) {
	clean := Clean(path)
	idx := strings.LastIndex(clean, Separator)
	if idx < 0 {
		return "", clean
	}
	return clean[:idx], clean[idx+1:]
}

// Key returns the lookup key for a group or parameter name. Names of the
// form base:N with a decimal N are normalized so that "two:4" and
// "two:04" address the same entry.
func Key(name string) string {
	base, n, ok := splitSuffix(name)
	if !ok {
		return name
	}
	return base + ":" + strconv.FormatUint(n, 10)
}

// Less orders names by base, then by numeric suffix. Names without a
// numeric suffix come before suffixed ones sharing the same base.
func Less(a, b string) bool {
	ab, an, aok := splitSuffix(a)
	bb, bn, bok := splitSuffix(b)
	if !aok {
		ab = a
	}
	if !bok {
		bb = b
	}
	if ab != bb {
		return ab < bb
	}
	switch {
	case aok && bok:
		if an != bn {
			return an < bn
		}
		return a < b
	case aok != bok:
		return !aok
	default:
		return a < b
	}
}

func splitSuffix(name string) (string, uint64, bool) {
	idx := strings.LastIndexByte(name, ':')
	if idx < 0 || idx == len(name)-1 {
		return "", 0, false
	}
	n, err := strconv.ParseUint(name[idx+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return name[:idx], n, true
}

func validName(name string) bool {
	return name != "" && name != parentSegment && name != currentSegment && !strings.Contains(name, Separator)
}
