package chunker

import (
	"regexp"
	"strconv"
	"strings"

	"ragchat/internal/domain"
)

// SentenceChunker splits text into sentence-based chunks with overlap.
// Paragraph breaks also end a sentence, so headings and list items in
// standards documents do not merge into the following paragraph.
type SentenceChunker struct {
	sentencesPerChunk int
	overlapSentences  int
	splitter          *regexp.Regexp
	paragraphs        *regexp.Regexp
}

func NewSentenceChunker(sentencesPerChunk, overlapSentences int) *SentenceChunker {
	if sentencesPerChunk <= 0 {
		sentencesPerChunk = 5
	}
	if overlapSentences < 0 {
		overlapSentences = 0
	}
	if overlapSentences >= sentencesPerChunk {
		overlapSentences = sentencesPerChunk - 1
	}
	return &SentenceChunker{
		sentencesPerChunk: sentencesPerChunk,
		overlapSentences:  overlapSentences,
		splitter:          regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`),
		paragraphs:        regexp.MustCompile(`\n\s*\n`),
	}
}

func (c *SentenceChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	sentences := c.sentences(document.Content)
	if len(sentences) == 0 {
		return nil, nil
	}
	var chunks []domain.Chunk
	i := 0
	idx := 0
	for i < len(sentences) {
		end := i + c.sentencesPerChunk
		if end > len(sentences) {
			end = len(sentences)
		}
		chunks = append(chunks, domain.Chunk{
			DocumentID: document.ID,
			ChunkID:    document.ID + ":" + strconv.Itoa(idx),
			Source:     document.Path,
			Text:       strings.Join(sentences[i:end], " "),
			Index:      idx,
		})
		if end == len(sentences) {
			break
		}
		i = end - c.overlapSentences
		idx++
	}
	return chunks, nil
}

func (c *SentenceChunker) sentences(content string) []string {
	var out []string
	for _, para := range c.paragraphs.Split(content, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		consumed := 0
		for _, loc := range c.splitter.FindAllStringIndex(para, -1) {
			consumed = loc[1]
			if s := strings.TrimSpace(para[loc[0]:loc[1]]); s != "" {
				out = append(out, s)
			}
		}
		// Text after the last terminator (a heading, a bullet) is kept as its own sentence.
		if consumed < len(para) {
			if tail := strings.TrimSpace(para[consumed:]); tail != "" {
				out = append(out, tail)
			}
		}
	}
	return out
}
