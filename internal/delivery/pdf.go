package delivery

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/go-pdf/fpdf"
	"github.com/yuin/goldmark"
	"golang.org/x/net/html"

	"github.com/hitoshi/notegate/internal/model"
)

// pdfWrapWidth はPDFの1行あたりの最大文字数。
const pdfWrapWidth = 90

// blockTags は前後に改行を入れる要素。
var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"pre": true, "blockquote": true, "hr": true, "ul": true, "ol": true, "table": true,
}

// PDF はノート本文を簡易的なテキストPDFに変換する。
func (b *Bundler) PDF(note *model.Note) ([]byte, error) {
	if note == nil {
		return nil, errors.New("note is nil")
	}

	text, err := MarkdownToText(note.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", note.Slug, err)
	}

	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetTitle(note.Title, true)
	doc.AddPage()
	doc.SetFont("Helvetica", "", 10)
	tr := doc.UnicodeTranslatorFromDescriptor("")

	for _, line := range WrapText(text, pdfWrapWidth) {
		doc.CellFormat(0, 5, tr(line), "", 1, "L", false, 0, "")
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write pdf for %s: %w", note.Slug, err)
	}
	return buf.Bytes(), nil
}

// MarkdownToText はMarkdownをHTMLに変換し、タグを除いたテキストを返す。
func MarkdownToText(markdown string) (string, error) {
	var rendered bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &rendered); err != nil {
		return "", err
	}

	var sb strings.Builder
	z := html.NewTokenizer(&rendered)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return "", err
			}
			return strings.TrimSpace(collapseBlankLines(sb.String())), nil
		case html.TextToken:
			sb.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if blockTags[string(name)] {
				sb.WriteString("\n")
			}
		}
	}
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.TrimRight(l, " \t")
		if l == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}

// WrapText は各行をwidth文字ごとに機械的に折り返す。
func WrapText(text string, width int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		for utf8.RuneCountInString(line) > width {
			r := []rune(line)
			out = append(out, string(r[:width]))
			line = string(r[width:])
		}
		out = append(out, line)
	}
	return out
}
