package chunking

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/conductor/core"
)

// overlapSnap bounds how far an overlap start may move forward to land on a word.
const overlapSnap = 50

var (
	atxHeader   = regexp.MustCompile(`^#{1,6}[ \t]`)
	declaration = regexp.MustCompile(`^(?:(?:pub|export|async|public|private|static)\s+)*(?:func|type|class|def|fn|impl|interface)\b`)
)

// boundaryFunc reports whether a chunk may end at byte position b, with the
// next chunk's fresh content starting at b.
type boundaryFunc func(text string, b int) bool

func lineStart(text string, b int) bool {
	return b > 0 && text[b-1] == '\n'
}

func headerBoundary(text string, b int) bool {
	return lineStart(text, b) && atxHeader.MatchString(text[b:min(len(text), b+8)])
}

func declarationBoundary(text string, b int) bool {
	return lineStart(text, b) && declaration.MatchString(text[b:min(len(text), b+64)])
}

func blankLineBoundary(text string, b int) bool {
	return b > 1 && text[b-1] == '\n' && text[b-2] == '\n'
}

func sentenceBoundary(text string, b int) bool {
	return b > 1 && (text[b-1] == ' ' || text[b-1] == '\n') && strings.IndexByte(".!?", text[b-2]) >= 0
}

func spaceBoundary(text string, b int) bool {
	return text[b-1] == ' ' || text[b-1] == '\t'
}

// boundaryLevels returns the boundary predicates for ct, strongest first.
func boundaryLevels(ct core.ContentType) []boundaryFunc {
	common := []boundaryFunc{blankLineBoundary, lineStart, sentenceBoundary, spaceBoundary}
	switch ct {
	case core.ContentTypeMarkdown:
		return append([]boundaryFunc{headerBoundary}, common...)
	case core.ContentTypeCode:
		return append([]boundaryFunc{declarationBoundary}, common...)
	default:
		return common
	}
}

// splitText splits text into overlapping windows between minSize and maxSize
// bytes, ending each window at the strongest boundary available and, among
// boundaries of that strength, the one closest to targetSize.
func (r *Router) splitText(text string, ct core.ContentType) []segment {
	if len(text) <= r.maxSize {
		return []segment{r.textSegment(text, 0, len(text), ct)}
	}

	levels := boundaryLevels(ct)
	var segments []segment
	pos := 0
	for {
		if len(text)-pos <= r.maxSize {
			segments = append(segments, r.textSegment(text, pos, len(text), ct))
			break
		}

		end := r.pickEnd(text, pos, levels)
		segments = append(segments, r.textSegment(text, pos, end, ct))
		pos = r.overlapStart(text, pos, end)
	}
	return segments
}

func (r *Router) pickEnd(text string, pos int, levels []boundaryFunc) int {
	lo := pos + r.minSize
	hi := min(pos+r.maxSize, len(text)-1)
	target := pos + r.targetSize

	for _, isBoundary := range levels {
		best, bestDist := -1, 0
		for b := lo; b <= hi; b++ {
			if !isBoundary(text, b) {
				continue
			}
			dist := b - target
			if dist < 0 {
				dist = -dist
			}
			if best < 0 || dist <= bestDist {
				best, bestDist = b, dist
			}
		}
		if best > 0 {
			return best
		}
	}

	end := pos + r.maxSize
	for end > lo && !utf8.RuneStart(text[end]) {
		end--
	}
	return end
}

// overlapStart steps back overlap bytes from end, then forward to the next
// word start if one is near.
func (r *Router) overlapStart(text string, pos, end int) int {
	next := end - r.overlap
	if next <= pos {
		return end
	}
	limit := min(next+overlapSnap, end)
	if i := strings.IndexAny(text[next:limit], " \t\n"); i >= 0 {
		next += i + 1
	}
	for next < end && !utf8.RuneStart(text[next]) {
		next++
	}
	return next
}

func (r *Router) textSegment(text string, start, end int, ct core.ContentType) segment {
	seg := segment{text: text[start:end], start: start, end: end}
	if ct == core.ContentTypeCode {
		first := strings.Count(text[:start], "\n") + 1
		last := first + strings.Count(strings.TrimRight(seg.text, "\n"), "\n")
		seg.meta = map[string]string{core.MetaLineRange: fmt.Sprintf("%d-%d", first, last)}
	}
	return seg
}
