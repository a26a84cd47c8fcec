// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

// Package chunk splits entry bodies into token-bounded pieces for embedding.
//
// Text is split on blank-line paragraph boundaries and paragraphs are packed
// greedily into chunks. A paragraph that alone exceeds the budget is packed
// sentence by sentence instead. The budget is a soft ceiling: a single
// sentence longer than the budget becomes its own chunk.
//
// Every chunk is a verbatim slice of the source. Whitespace inside a chunk is
// kept as written, and the text between two consecutive chunks is exactly the
// whitespace run the split happened on, so the source is the chunks
// interleaved with those runs.
package chunk

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxTokens leaves headroom under the 8192-token context of
// nomic-embed-text for the document marker.
const DefaultMaxTokens = 8000

// TokenCounter returns the number of model tokens in s.
type TokenCounter func(s string) int

// EstimateTokens approximates BPE token counts as one token per four runes,
// rounded up.
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

// Span is a half-open byte range [Start, End) of the source text.
type Span struct {
	Start int
	End   int
}

// Chunker splits text using a fixed token counter.
type Chunker struct {
	count TokenCounter
}

// New returns a Chunker. A nil counter uses EstimateTokens.
func New(counter TokenCounter) *Chunker {
	if counter == nil {
		counter = EstimateTokens
	}
	return &Chunker{count: counter}
}

// Chunk splits text into ordered, non-empty chunks of at most maxTokens
// tokens each, except where a single sentence is itself larger.
// Empty text yields no chunks.
func (c *Chunker) Chunk(text string, maxTokens int) []string {
	spans := c.Spans(text, maxTokens)
	if len(spans) == 0 {
		return nil
	}
	out := make([]string, len(spans))
	for i, sp := range spans {
		out[i] = text[sp.Start:sp.End]
	}
	return out
}

// Spans returns the byte ranges of the chunks Chunk would produce. Spans are
// ordered and disjoint, and only whitespace lies between consecutive spans.
func (c *Chunker) Spans(text string, maxTokens int) []Span {
	if text == "" {
		return nil
	}
	if maxTokens <= 0 || c.count(text) <= maxTokens {
		return []Span{{Start: 0, End: len(text)}}
	}

	var (
		out     []Span
		pending []Span
	)
	flush := func() {
		out = append(out, c.pack(text, pending, maxTokens)...)
		pending = nil
	}

	for _, para := range paragraphSpans(text) {
		if c.count(text[para.Start:para.End]) > maxTokens {
			flush()
			out = append(out, c.pack(text, sentenceSpans(text, para), maxTokens)...)
			continue
		}
		pending = append(pending, para)
	}
	flush()

	kept := out[:0]
	for _, sp := range out {
		if strings.TrimSpace(text[sp.Start:sp.End]) != "" {
			kept = append(kept, sp)
		}
	}
	return kept
}

// pack merges consecutive pieces greedily while the merged slice, including
// the whitespace between pieces, stays within the budget.
func (c *Chunker) pack(text string, pieces []Span, maxTokens int) []Span {
	var (
		out    []Span
		cur    Span
		curTok int
		open   bool
	)
	for _, p := range pieces {
		tok := c.count(text[p.Start:p.End])
		if open {
			gap := c.count(text[cur.End:p.Start])
			if curTok+gap+tok <= maxTokens {
				cur.End = p.End
				curTok += gap + tok
				continue
			}
			out = append(out, cur)
		}
		cur, curTok, open = p, tok, true
	}
	if open {
		out = append(out, cur)
	}
	return out
}

// paragraphSpans splits on blank lines: any whitespace run holding two or
// more newlines. The runs themselves belong to no paragraph.
func paragraphSpans(text string) []Span {
	var out []Span
	start := 0
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !unicode.IsSpace(r) {
			i += size
			continue
		}
		j, newlines := i, 0
		for j < len(text) {
			r, n := utf8.DecodeRuneInString(text[j:])
			if !unicode.IsSpace(r) {
				break
			}
			if r == '\n' {
				newlines++
			}
			j += n
		}
		if newlines >= 2 {
			if i > start {
				out = append(out, Span{Start: start, End: i})
			}
			start = j
		}
		i = j
	}
	if start < len(text) {
		out = append(out, Span{Start: start, End: len(text)})
	}
	return out
}

// sentenceSpans splits para after '.', '!' or '?' when followed by
// whitespace. The terminator stays with its sentence; the whitespace run
// after it belongs to neither neighbour.
func sentenceSpans(text string, para Span) []Span {
	var out []Span
	start := para.Start
	for i := para.Start; i < para.End; {
		r, size := utf8.DecodeRuneInString(text[i:para.End])
		i += size
		if !isTerminator(r) || i >= para.End {
			continue
		}
		if next, _ := utf8.DecodeRuneInString(text[i:para.End]); !unicode.IsSpace(next) {
			continue
		}
		out = append(out, Span{Start: start, End: i})
		for i < para.End {
			r, n := utf8.DecodeRuneInString(text[i:para.End])
			if !unicode.IsSpace(r) {
				break
			}
			i += n
		}
		start = i
	}
	if start < para.End {
		out = append(out, Span{Start: start, End: para.End})
	}
	return out
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// Chunk splits text with the default token estimate.
func Chunk(text string, maxTokens int) []string {
	return New(nil).Chunk(text, maxTokens)
}
