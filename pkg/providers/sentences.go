package providers

import "strings"

// sentenceEnders are the punctuation marks that end a speakable sentence:
// ASCII terminators plus the Armenian full stop (U+0589), which the
// platform's original scenarios rely on.
const sentenceEnders = ".!?:;։"

// minSentenceLen guards against emitting a sentence after a single
// character or two lands on an ender (e.g. an abbreviation or a lone
// digit followed by ':').
const minSentenceLen = 5

// SentenceSplitter feeds delta chunks of a streaming token source one
// at a time and calls onSentence whenever a sentence boundary is crossed.
// At most one sentence is emitted per call to Feed (matching the
// underlying vendor stream's per-delta granularity); call Flush after the
// stream ends to emit any trailing partial sentence.
type SentenceSplitter struct {
	buf strings.Builder
}

// Feed appends delta to the buffer and, if a sentence ender appears past
// minSentenceLen characters in, emits everything up to and including it
// via onSentence and keeps the remainder buffered.
func (s *SentenceSplitter) Feed(delta string, onSentence SentenceFunc) error {
	s.buf.WriteString(delta)
	text := s.buf.String()

	for i, ch := range []rune(text) {
		if i <= minSentenceLen {
			continue
		}
		if strings.ContainsRune(sentenceEnders, ch) {
			runes := []rune(text)
			sentence := strings.TrimSpace(string(runes[:i+1]))
			rest := strings.TrimSpace(string(runes[i+1:]))
			s.buf.Reset()
			s.buf.WriteString(rest)
			if sentence != "" {
				return onSentence(sentence)
			}
			return nil
		}
	}
	return nil
}

// Flush emits any remaining buffered text as a final sentence.
func (s *SentenceSplitter) Flush(onSentence SentenceFunc) error {
	rest := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	if rest == "" {
		return nil
	}
	return onSentence(rest)
}

// SplitLongText breaks text into chunks of at most maxLen characters,
// cutting only at sentence boundaries so TTS vendors with a per-request
// character cap still receive whole sentences. A single sentence longer
// than maxLen is not cut: it becomes a chunk of its own that exceeds
// maxLen. Used for long-input TTS
// chunking, independent of LLM sentence streaming.
func SplitLongText(text string, maxLen int) []string {
	if len([]rune(text)) <= maxLen {
		return []string{text}
	}

	var sentences []string
	var cur strings.Builder
	for _, ch := range text {
		cur.WriteRune(ch)
		if strings.ContainsRune(sentenceEnders, ch) && cur.Len() > 1 {
			sentences = append(sentences, strings.TrimSpace(cur.String()))
			cur.Reset()
		}
	}
	if strings.TrimSpace(cur.String()) != "" {
		sentences = append(sentences, strings.TrimSpace(cur.String()))
	}

	var chunks []string
	var chunk string
	for _, sentence := range sentences {
		candidate := sentence
		if chunk != "" {
			candidate = chunk + " " + sentence
		}
		if len([]rune(candidate)) <= maxLen {
			chunk = candidate
			continue
		}
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		chunk = sentence
	}
	if chunk != "" {
		chunks = append(chunks, chunk)
	}
	if len(chunks) == 0 {
		runes := []rune(text)
		if len(runes) > maxLen {
			return []string{string(runes[:maxLen])}
		}
		return []string{text}
	}
	return chunks
}
