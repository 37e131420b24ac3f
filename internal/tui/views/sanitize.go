package views

import "strings"

// sanitizeForTerminal drops codepoints tcell renders with the wrong width:
// skin tone modifiers, the zero width joiner and variation selectors. A
// modified emoji such as a thumbs up with a skin tone collapses to its base
// glyph.
func sanitizeForTerminal(s string) string {
	return strings.Map(func(r rune) rune {
		if isProblematicRune(r) {
			return -1
		}
		return r
	}, s)
}

func isProblematicRune(r rune) bool {
	switch {
	case r >= 0x1F3FB && r <= 0x1F3FF: // skin tone modifiers
		return true
	case r == 0x200D: // zero width joiner
		return true
	case r >= 0xFE00 && r <= 0xFE0F: // variation selectors
		return true
	case r >= 0xE0100 && r <= 0xE01EF: // variation selectors supplement
		return true
	default:
		return false
	}
}
