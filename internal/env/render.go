package env

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Render turns rows into an observation, one row per line with fields
// joined by " | ". When the text exceeds maxChars the rows are capped to
// maxRows, and if it is still too long the text is cut at maxChars. It
// returns the number of rows not shown in full.
func Render(rows [][]string, maxRows, maxChars int) (string, int) {
	if len(rows) == 0 {
		return "(no rows)", 0
	}
	lines := make([]string, len(rows))
	for i, r := range rows {
		lines[i] = strings.Join(r, " | ")
	}

	text := strings.Join(lines, "\n")
	if len(text) <= maxChars {
		return text, 0
	}

	shown := len(lines)
	if shown > maxRows {
		shown = maxRows
		text = strings.Join(lines[:shown], "\n")
	}
	if len(text) > maxChars {
		full, n := 0, 0
		for i := 0; i < shown; i++ {
			if i > 0 {
				n++
			}
			n += len(lines[i])
			if n > maxChars {
				break
			}
			full++
		}
		cut := maxChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
		shown = full
	}

	elided := len(rows) - shown
	return fmt.Sprintf("%s\n... (%d more rows truncated)", text, elided), elided
}
