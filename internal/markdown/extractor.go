// Package markdown turns raw markdown into plain text suitable for speech.
package markdown

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var (
	urlPattern   = regexp.MustCompile(`https?://[^\s)]+`)
	emailPattern = regexp.MustCompile(`\S+@\S+\.\S+`)
	spacePattern = regexp.MustCompile(`\s+`)
)

var parser = goldmark.New()

// Extract renders markdown and collects the prose content: heading and
// paragraph text, link labels and list items. Code blocks, inline code,
// images, raw HTML and bare URLs are dropped. Block boundaries become
// sentence breaks so the synthesizer pauses between them.
func Extract(source string) string {
	src := []byte(source)
	doc := parser.Parser().Parse(text.NewReader(src))

	var segments []string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		case *ast.Heading, *ast.Paragraph, *ast.TextBlock:
			if seg := inlineText(n, src); seg != "" {
				segments = append(segments, seg)
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	var b strings.Builder
	for _, seg := range segments {
		seg = cleanSegment(seg)
		if seg == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(seg)
		if !strings.ContainsRune(".!?;:", rune(seg[len(seg)-1])) {
			b.WriteByte('.')
		}
	}
	return b.String()
}

// inlineText flattens the inline children of a block node, skipping
// constructs that have no spoken form.
func inlineText(block ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(block, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Image, *ast.CodeSpan, *ast.AutoLink, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			b.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(node.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

func cleanSegment(s string) string {
	s = urlPattern.ReplaceAllString(s, "")
	s = emailPattern.ReplaceAllString(s, "")
	s = spacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Preview shortens extracted text for history listings, breaking at a word
// boundary when one falls in the second half of the window. The cut never
// splits a multibyte rune.
func Preview(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	end := max
	for end > 0 && !utf8.RuneStart(text[end]) {
		end--
	}
	cut := text[:end]
	if idx := strings.LastIndex(cut, " "); idx > max/2 {
		cut = cut[:idx]
	}
	return cut + "..."
}
