package markdown

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestExtractHeadingAndParagraph(t *testing.T) {
	got := Extract("# Hi\n\nThis is a test.")
	if got != "Hi. This is a test." {
		t.Fatalf("unexpected extraction: %q", got)
	}
}

func TestExtractEmptyInput(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\n\t"} {
		if got := Extract(in); got != "" {
			t.Fatalf("expected empty output for %q, got %q", in, got)
		}
	}
}

func TestExtractDeterministic(t *testing.T) {
	src := "# Title\n\nSome *emphasis* and a [link](https://example.com/page).\n\n- one\n- two\n"
	first := Extract(src)
	for i := 0; i < 5; i++ {
		if got := Extract(src); got != first {
			t.Fatalf("extraction not deterministic: %q vs %q", first, got)
		}
	}
}

func TestExtractDropsCodeBlocks(t *testing.T) {
	src := "Before.\n\n```go\nfunc secret() {}\n```\n\nAfter."
	got := Extract(src)
	if strings.Contains(got, "secret") {
		t.Fatalf("code block leaked into output: %q", got)
	}
	if !strings.Contains(got, "Before.") || !strings.Contains(got, "After.") {
		t.Fatalf("prose lost: %q", got)
	}
}

func TestExtractDropsInlineCode(t *testing.T) {
	got := Extract("Run `rm -rf` carefully.")
	if strings.Contains(got, "rm -rf") {
		t.Fatalf("inline code leaked: %q", got)
	}
}

func TestExtractKeepsLinkTextDropsURL(t *testing.T) {
	got := Extract("See [the docs](https://example.com/docs) for details.")
	if !strings.Contains(got, "the docs") {
		t.Fatalf("link text lost: %q", got)
	}
	if strings.Contains(got, "example.com") {
		t.Fatalf("link URL leaked: %q", got)
	}
}

func TestExtractDropsImagesAndBareURLs(t *testing.T) {
	got := Extract("![diagram](pic.png)\n\nVisit https://example.com now.\n\nMail root@example.com too.")
	if strings.Contains(got, "pic.png") || strings.Contains(got, "https://") {
		t.Fatalf("non-speech content leaked: %q", got)
	}
	if strings.Contains(got, "root@example.com") {
		t.Fatalf("email leaked: %q", got)
	}
}

func TestExtractCollapsesWhitespace(t *testing.T) {
	got := Extract("A   line\nwith    gaps.")
	if strings.Contains(got, "  ") {
		t.Fatalf("whitespace not collapsed: %q", got)
	}
}

func TestExtractListItems(t *testing.T) {
	got := Extract("- first\n- second\n")
	if !strings.Contains(got, "first.") || !strings.Contains(got, "second.") {
		t.Fatalf("list items lost sentence breaks: %q", got)
	}
}

func TestPreview(t *testing.T) {
	if got := Preview("short", 100); got != "short" {
		t.Fatalf("short text must pass through, got %q", got)
	}
	long := strings.Repeat("word ", 40)
	got := Preview(long, 100)
	if len(got) > 104 {
		t.Fatalf("preview too long: %d", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("preview missing ellipsis: %q", got)
	}
}

func TestPreviewKeepsRunesWhole(t *testing.T) {
	cyrillic := strings.Repeat("привет ", 30)
	for max := 10; max <= 20; max++ {
		got := Preview(cyrillic, max)
		if !utf8.ValidString(got) {
			t.Fatalf("max %d: preview split a rune: %q", max, got)
		}
	}
}
