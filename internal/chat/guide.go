package chat

import "strings"

// maxMessageLen is Discord's plain-message content limit.
const maxMessageLen = 2000

// ChunkGuide splits troubleshooting guide content into Discord-sized
// messages, preferring to break on blank lines so a single step doesn't
// get split mid-paragraph when it can be avoided. No markdown rendering
// is applied; the guide is posted as the raw text it was saved as.
func ChunkGuide(content string) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if len(content) <= maxMessageLen {
		return []string{content}
	}

	paragraphs := strings.Split(content, "\n\n")
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, p := range paragraphs {
		candidate := p
		if current.Len() > 0 {
			candidate = "\n\n" + p
		}
		if current.Len()+len(candidate) > maxMessageLen {
			flush()
			if len(p) > maxMessageLen {
				chunks = append(chunks, splitHard(p)...)
				continue
			}
			current.WriteString(p)
			continue
		}
		current.WriteString(candidate)
	}
	flush()
	return chunks
}

// splitHard breaks a single oversized paragraph into fixed-width chunks
// as a last resort.
func splitHard(s string) []string {
	var chunks []string
	for len(s) > maxMessageLen {
		chunks = append(chunks, s[:maxMessageLen])
		s = s[maxMessageLen:]
	}
	if len(s) > 0 {
		chunks = append(chunks, s)
	}
	return chunks
}
