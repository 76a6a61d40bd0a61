package extract

import "strings"

// splitTranscript cuts a long transcript into overlapping chunks for
// map-reduce extraction. Texts at or below threshold pass through whole.
// Cuts prefer line boundaries so utterances are not bisected mid-sentence.
func splitTranscript(text string, threshold, maxChunk, overlap int) []string {
	if threshold <= 0 || maxChunk <= 0 {
		return []string{text}
	}
	if len(text) <= threshold || len(text) <= maxChunk {
		return []string{text}
	}
	if overlap >= maxChunk {
		overlap = maxChunk / 4
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + maxChunk
		if end >= len(text) {
			chunks = append(chunks, text[start:])
			break
		}

		// Back up to the last newline inside the window, if one is close.
		cut := end
		if i := strings.LastIndexByte(text[start:end], '\n'); i > maxChunk/2 {
			cut = start + i
		}
		chunks = append(chunks, text[start:cut])

		next := cut - overlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return chunks
}
