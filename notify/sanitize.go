package notify

import (
	"regexp"
	"strings"
)

// zwsp is a zero-width space inserted to defuse broadcast mentions without
// visibly changing the text.
const zwsp = "​"

var (
	userMentionRe = regexp.MustCompile(`<@!?\d+>`)
	channelRefRe  = regexp.MustCompile(`<#\d+>`)
	customEmojiRe = regexp.MustCompile(`<a?:(\w+):\d+>`)
)

// markupChars are escaped so interpolated free text cannot break out of the
// fixed message template.
const markupChars = "\\*_~`|"

// Sanitize neutralizes markup and mention injection in free text before it is
// interpolated into an outbound message. Reference syntax is replaced with
// inert placeholders, markup control characters are escaped, and broadcast
// mentions get a zero-width separator.
func Sanitize(s string) string {
	s = userMentionRe.ReplaceAllString(s, "@user")
	s = channelRefRe.ReplaceAllString(s, "#channel")
	s = customEmojiRe.ReplaceAllString(s, ":$1:")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(markupChars, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	s = b.String()

	s = strings.ReplaceAll(s, "@everyone", "@"+zwsp+"everyone")
	s = strings.ReplaceAll(s, "@here", "@"+zwsp+"here")
	return s
}
