package trace

import "regexp"

var ansiSequence = regexp.MustCompile(
	`[\x1b\x{9b}][[\]()#;?]*(?:(?:(?:[a-zA-Z\d]*(?:;[-a-zA-Z\d/#&.:=?%@~_]*)*)?\x07)` +
		`|(?:(?:\d{1,4}(?:;\d{0,4})*)?[\dA-PR-TZcf-ntqry=><~]))`,
)

// StripANSI removes terminal escape sequences from s
func StripANSI(s string) string {
	return ansiSequence.ReplaceAllString(s, "")
}
