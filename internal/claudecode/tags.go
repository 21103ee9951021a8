package claudecode

import (
	"regexp"
	"strings"
)

// knownSystemTags are the IDE/system tag names the Claude Code CLI embeds in
// user message text. Content inside these tags (and any trailing orphan
// opening tag with no matching close) is stripped before a user record's
// text is used as a session's display name.
var knownSystemTags = []string{
	"system-reminder",
	"ide_opened_file",
	"ide_selection",
	"ide_context",
	"gitStatus",
	"command-name",
	"claudeMd",
}

var (
	pairedTagPatterns []*regexp.Regexp
	orphanTagPatterns []*regexp.Regexp
	anyOrphanOpenTag  = regexp.MustCompile(`(?s)<[a-zA-Z][\w-]*>[\s\S]*$`)
)

func init() {
	for _, tag := range knownSystemTags {
		pairedTagPatterns = append(pairedTagPatterns, regexp.MustCompile(`(?s)<`+tag+`>.*?</`+tag+`>`))
		orphanTagPatterns = append(orphanTagPatterns, regexp.MustCompile(`(?s)<`+tag+`>[\s\S]*$`))
	}
}

// stripSystemTags removes every known system/IDE tag region (paired or
// orphan) from text, plus any remaining unclosed opening tag through
// end-of-text. It is idempotent: stripSystemTags(stripSystemTags(x)) ==
// stripSystemTags(x), since the second pass finds nothing left to strip.
func stripSystemTags(text string) string {
	out := text
	for _, re := range pairedTagPatterns {
		out = re.ReplaceAllString(out, "")
	}
	for _, re := range orphanTagPatterns {
		out = re.ReplaceAllString(out, "")
	}
	out = anyOrphanOpenTag.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}
