package format

import "strings"

var markdownV1 = strings.NewReplacer(`_`, `\_`, `*`, `\*`, "`", "\\`", `[`, `\[`)

// EscapeMarkdown escapes user-supplied text for Telegram legacy Markdown.
func EscapeMarkdown(text string) string {
	return markdownV1.Replace(text)
}

// Code wraps text in an inline code span. Backticks inside text are dropped.
func Code(text string) string {
	return "`" + strings.ReplaceAll(text, "`", "") + "`"
}
