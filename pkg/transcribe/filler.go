package transcribe

import (
	"regexp"
	"strings"
	"unicode"
)

// fillerPattern matches interjections once reduced to lowercase letters:
// "uh"/"um", "hmm", "mmm"/"mhm", "eh"/"ehm", "ah" and "oh". Short real words
// such as "a", "am", "him" or "me" do not match.
var fillerPattern = regexp.MustCompile(`^(?:u+[hm]+|h+m+|m+(?:h+m+)?|e+h*m+|e+h+|a+h+|o+h+)$`)

const maxFillerLetters = 6

// IsFiller reports whether a transcript is a short filler sound that should
// never reach the model.
func IsFiller(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" || strings.ContainsFunc(text, unicode.IsSpace) {
		return false
	}

	var b strings.Builder
	for _, r := range text {
		if unicode.IsLetter(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	compact := b.String()
	if compact == "" || len([]rune(compact)) > maxFillerLetters {
		return false
	}
	return fillerPattern.MatchString(compact)
}
