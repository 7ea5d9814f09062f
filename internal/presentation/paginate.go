package presentation

import "strings"

// fileThresholdMultiplier sets the second threshold (spec §4.9: "or
// converted into a file attachment above a second threshold") as a
// multiple of the transport's per-message byte cap.
const fileThresholdMultiplier = 4

// Page is one chunk of a paginated message.
type Page struct {
	Text  string
	Index int
	Total int
}

// Paginate splits text into pages of at most capBytes, breaking at the
// largest natural boundary available — paragraph, then sentence, then
// word — so no page is split mid-unit when it can be avoided (spec §4.9).
// When text exceeds capBytes*fileThresholdMultiplier, Paginate returns no
// pages at all: the caller should send it as a file attachment instead.
func Paginate(text string, capBytes int) []Page {
	if capBytes <= 0 {
		capBytes = 4096
	}
	if len(text) <= capBytes {
		return []Page{{Text: text, Index: 0, Total: 1}}
	}
	if len(text) > capBytes*fileThresholdMultiplier {
		return nil
	}

	var chunks []string
	remaining := text
	for len(remaining) > capBytes {
		cut := boundaryCut(remaining, capBytes)
		chunks = append(chunks, strings.TrimRight(remaining[:cut], "\n "))
		remaining = strings.TrimLeft(remaining[cut:], "\n ")
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}

	pages := make([]Page, len(chunks))
	for i, c := range chunks {
		pages[i] = Page{Text: c, Index: i, Total: len(chunks)}
	}
	return pages
}

// boundaryCut finds the best split point within text[:limit], preferring
// a paragraph break, then a sentence end, then a word boundary, falling
// back to a hard cut at limit if none is found.
func boundaryCut(text string, limit int) int {
	if limit >= len(text) {
		return len(text)
	}
	window := text[:limit]

	if i := strings.LastIndex(window, "\n\n"); i > 0 {
		return i + 2
	}
	if i := lastSentenceEnd(window); i > 0 {
		return i
	}
	if i := strings.LastIndexByte(window, ' '); i > 0 {
		return i + 1
	}
	return limit
}

// lastSentenceEnd returns the offset just past the last ". ", "! ", or
// "? " within window, or -1 if none is found.
func lastSentenceEnd(window string) int {
	bestStart := -1
	bestEnd := -1
	for _, terminator := range []string{". ", "! ", "? "} {
		if i := strings.LastIndex(window, terminator); i > bestStart {
			bestStart = i
			bestEnd = i + len(terminator)
		}
	}
	return bestEnd
}
