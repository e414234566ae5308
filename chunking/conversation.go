package chunking

import (
	"strconv"
	"strings"
	"time"

	"github.com/poiesic/conductor/core"
)

// unit is one message line of a conversation.
type unit struct {
	start, end int
	at         time.Time
}

// parseUnits returns every non-blank line of text as a message unit. A line
// that starts with "[<RFC3339 timestamp>]" carries that time.
func parseUnits(text string) []unit {
	var units []unit
	pos := 0
	for pos < len(text) {
		nl := strings.IndexByte(text[pos:], '\n')
		end := len(text)
		if nl >= 0 {
			end = pos + nl
		}
		line := strings.TrimRight(text[pos:end], " \t\r")
		if strings.TrimSpace(line) != "" {
			u := unit{start: pos, end: pos + len(line)}
			u.at = parseTimestamp(line)
			units = append(units, u)
		}
		pos = end + 1
	}
	return units
}

func parseTimestamp(line string) time.Time {
	line = strings.TrimLeft(line, " \t")
	if !strings.HasPrefix(line, "[") {
		return time.Time{}
	}
	closing := strings.IndexByte(line, ']')
	if closing < 0 {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, line[1:closing])
	if err != nil {
		return time.Time{}
	}
	return t
}

// splitConversation emits windows of convWindow units, each sharing
// convOverlap units with the previous one.
func (r *Router) splitConversation(text string) []segment {
	units := parseUnits(text)
	if len(units) == 0 {
		return nil
	}

	step := r.convWindow - r.convOverlap
	var segments []segment
	for i := 0; ; i += step {
		j := min(i+r.convWindow, len(units))
		window := units[i:j]
		start, end := window[0].start, window[len(window)-1].end
		seg := segment{
			text:  text[start:end],
			start: start,
			end:   end,
			meta:  map[string]string{core.MetaUnitCount: strconv.Itoa(len(window))},
		}
		if first, last := timeRange(window); !first.IsZero() {
			seg.meta[core.MetaStartTime] = first.Format(time.RFC3339)
			seg.meta[core.MetaEndTime] = last.Format(time.RFC3339)
		}
		segments = append(segments, seg)
		if j == len(units) {
			break
		}
	}
	return segments
}

func timeRange(units []unit) (first, last time.Time) {
	for _, u := range units {
		if u.at.IsZero() {
			continue
		}
		if first.IsZero() {
			first = u.at
		}
		last = u.at
	}
	return first, last
}
