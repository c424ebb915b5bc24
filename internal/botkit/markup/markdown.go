package markup

import "strings"

// Символы, которые в MarkdownV2 телеграма надо экранировать вне разметки.
// Обратный слеш идет первым, иначе он съест экранирование остальных.
var replacer = strings.NewReplacer(
	`\`, `\\`,
	"_", `\_`,
	"*", `\*`,
	"[", `\[`,
	"]", `\]`,
	"(", `\(`,
	")", `\)`,
	"~", `\~`,
	"`", "\\`",
	">", `\>`,
	"#", `\#`,
	"+", `\+`,
	"-", `\-`,
	"=", `\=`,
	"|", `\|`,
	"{", `\{`,
	"}", `\}`,
	".", `\.`,
	"!", `\!`,
)

// EscapeForMarkdown экранирует текст из источников для MarkdownV2
func EscapeForMarkdown(src string) string {
	return replacer.Replace(src)
}
