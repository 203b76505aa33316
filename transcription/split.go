package transcription

import (
	"fmt"
	"strings"
)

// ContinuationMarker ends a chunk that breaks mid-word.
const ContinuationMarker = "—"

// splitHeadroom reserves room in each chunk for the speaker prefix and the
// continuation marker added at delivery time.
const splitHeadroom = 4

// Split cuts text into chunks that fit within limit once decorated. Chunks
// that break mid-word carry the continuation marker; chunks ending on a
// space, and the final chunk, do not. Joining the chunks with markers
// stripped reproduces the input.
func Split(text string, limit int) ([]string, error) {
	if text == "" {
		return nil, fmt.Errorf("cannot split empty text")
	}
	size := limit - splitHeadroom
	if size <= 0 {
		return nil, fmt.Errorf("limit %d leaves no room for content", limit)
	}

	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunk := string(runes[start:end])
		if end < len(runes) && !strings.HasSuffix(chunk, " ") {
			chunk += ContinuationMarker
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// Join reverses Split: strips continuation markers from non-final chunks and
// concatenates.
func Join(chunks []string) string {
	var b strings.Builder
	for i, chunk := range chunks {
		if i < len(chunks)-1 {
			chunk = strings.TrimSuffix(chunk, ContinuationMarker)
		}
		b.WriteString(chunk)
	}
	return b.String()
}
