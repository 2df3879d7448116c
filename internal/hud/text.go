package hud

import (
	"strings"
	"unicode/utf8"
)

// WrapText splits text into lines of at most columns runes, breaking
// greedily between words. A word that would push the line past the budget
// starts a new line; a single word longer than the budget keeps its own line.
func WrapText(text string, columns int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if columns <= 0 {
		return []string{strings.Join(words, " ")}
	}

	var lines []string
	var line strings.Builder
	n := 0 // runes in line
	for _, w := range words {
		wn := utf8.RuneCountInString(w)
		if n > 0 && n+1+wn > columns {
			lines = append(lines, line.String())
			line.Reset()
			n = 0
		}
		if n > 0 {
			line.WriteByte(' ')
			n++
		}
		line.WriteString(w)
		n += wn
	}
	return append(lines, line.String())
}
