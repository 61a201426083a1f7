// Package similarity fingerprints document text for near-duplicate detection.
package similarity

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Normalize strips markup and lowercases. Every rune that is neither a letter
// nor a digit (CJK ideographs are letters) becomes a separator, and runs of
// separators collapse to one space.
func Normalize(text string) string {
	plain := stripMarkup(text)

	var b strings.Builder
	b.Grow(len(plain))
	pendingSpace := false
	for _, r := range plain {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(unicode.ToLower(r))
		default:
			pendingSpace = true
		}
	}
	return b.String()
}

func stripMarkup(text string) string {
	if !strings.ContainsRune(text, '<') && !strings.ContainsRune(text, '&') {
		return text
	}

	z := html.NewTokenizer(strings.NewReader(text))
	var b strings.Builder
	skipDepth := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.StartTagToken:
			if isInvisible(z) {
				skipDepth++
			}
			b.WriteByte(' ')
		case html.EndTagToken:
			if isInvisible(z) && skipDepth > 0 {
				skipDepth--
			}
			b.WriteByte(' ')
		case html.SelfClosingTagToken:
			b.WriteByte(' ')
		case html.TextToken:
			if skipDepth == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func isInvisible(z *html.Tokenizer) bool {
	name, _ := z.TagName()
	switch atom.Lookup(name) {
	case atom.Script, atom.Style, atom.Head:
		return true
	default:
		return false
	}
}

// TruncateRunes keeps at most n leading runes of s; n <= 0 keeps everything.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
