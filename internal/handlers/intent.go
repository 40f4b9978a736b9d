package handlers

import (
	"strconv"
	"strings"
)

type adjustKind int

const (
	adjustNone adjustKind = iota
	adjustScale
	adjustPosition
)

type adjustment struct {
	kind     adjustKind
	value    int
	relative bool
}

// parseAdjustment recognises "scale 80", "scale +10", "y 30", "pos=-5" and
// similar. Anything else is a hint.
func parseAdjustment(text string) (adjustment, bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return adjustment{}, false
	}

	t = strings.NewReplacer("=", " ", ":", " ", "%", " ").Replace(t)
	fields := strings.Fields(t)
	if len(fields) != 2 {
		return adjustment{}, false
	}

	var kind adjustKind
	switch fields[0] {
	case "scale", "size", "s":
		kind = adjustScale
	case "y", "pos", "position":
		kind = adjustPosition
	default:
		return adjustment{}, false
	}

	raw := fields[1]
	relative := strings.HasPrefix(raw, "+") || strings.HasPrefix(raw, "-")
	v, err := strconv.Atoi(raw)
	if err != nil {
		return adjustment{}, false
	}
	return adjustment{kind: kind, value: v, relative: relative}, true
}

func (a adjustment) apply(current int) int {
	if a.relative {
		return current + a.value
	}
	return a.value
}

func isImageMime(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image/")
}
