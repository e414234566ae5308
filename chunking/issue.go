package chunking

import (
	"strconv"
	"strings"

	"github.com/poiesic/conductor/core"
)

const (
	issuePrefix   = "Issue #"
	commentPrefix = "Comment by"
)

// block is a span of lines that must stay together: an issue header with its
// description, or one comment.
type block struct {
	start, end int
}

// splitIssues emits one segment per issue thread. A thread longer than the
// issue ceiling is split between comments, never inside one.
func (r *Router) splitIssues(text string) []segment {
	var segments []segment
	for _, issue := range splitThreads(text) {
		if len(issue.blocks) == 0 {
			continue
		}
		title := issue.title
		if title == "" {
			title = firstLine(text, issue.blocks[0].start)
		}
		parts := packBlocks(issue.blocks, r.issueCeiling)
		for i, part := range parts {
			start, end := part[0].start, trimEnd(text, part[len(part)-1].end)
			meta := map[string]string{core.MetaIssueTitle: title}
			if len(parts) > 1 {
				meta["issue_part"] = strconv.Itoa(i + 1)
				meta["issue_parts"] = strconv.Itoa(len(parts))
			}
			segments = append(segments, segment{text: text[start:end], start: start, end: end, meta: meta})
		}
	}
	return segments
}

type thread struct {
	title  string
	blocks []block
}

// splitThreads groups lines into issue threads, each a sequence of blocks.
// Text before the first issue header belongs to the first thread.
func splitThreads(text string) []thread {
	var threads []thread
	var current thread
	seen := false
	blockStart := 0

	pos := 0
	for pos < len(text) {
		lineEnd := len(text)
		if nl := strings.IndexByte(text[pos:], '\n'); nl >= 0 {
			lineEnd = pos + nl + 1
		}
		line := strings.TrimLeft(text[pos:lineEnd], " \t")

		switch {
		case strings.HasPrefix(line, issuePrefix):
			if seen {
				current.blocks = append(current.blocks, block{blockStart, pos})
				threads = append(threads, current)
				current = thread{}
				blockStart = pos
			}
			seen = true
			current.title = firstLine(text, pos)
		case strings.HasPrefix(line, commentPrefix) && pos > blockStart:
			current.blocks = append(current.blocks, block{blockStart, pos})
			blockStart = pos
		}
		pos = lineEnd
	}
	current.blocks = append(current.blocks, block{blockStart, len(text)})
	threads = append(threads, current)

	for i := range threads {
		threads[i].blocks = dropBlankBlocks(text, threads[i].blocks)
	}
	return threads
}

func dropBlankBlocks(text string, blocks []block) []block {
	out := blocks[:0]
	for _, b := range blocks {
		if !isBlank(text[b.start:b.end]) {
			out = append(out, b)
		}
	}
	return out
}

// packBlocks greedily groups consecutive blocks so each group spans at most
// ceiling bytes. A single oversized block forms its own group.
func packBlocks(blocks []block, ceiling int) [][]block {
	var groups [][]block
	var current []block
	for _, b := range blocks {
		if len(current) > 0 && b.end-current[0].start > ceiling {
			groups = append(groups, current)
			current = nil
		}
		current = append(current, b)
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

func firstLine(text string, start int) string {
	line := text[start:]
	if nl := strings.IndexByte(line, '\n'); nl >= 0 {
		line = line[:nl]
	}
	return strings.TrimSpace(line)
}

func trimEnd(text string, end int) int {
	for end > 0 && strings.IndexByte(" \t\r\n", text[end-1]) >= 0 {
		end--
	}
	return end
}
