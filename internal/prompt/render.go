// Package prompt renders a profile's prompt template around user input.
package prompt

import "strings"

// Placeholder is the token replaced by the user's text.
const Placeholder = "{USER_INPUT}"

// DefaultTemplate is the TinyLlama/Zephyr chat layout used by the default profile.
const DefaultTemplate = "<|system|>\nYou are a helpful assistant.\n<|user|>\n" + Placeholder + "\n<|assistant|>\n"

// FallbackTemplate is used when a template is empty.
const FallbackTemplate = DefaultTemplate

// Render substitutes userInput for every Placeholder in tmpl. An empty tmpl
// renders FallbackTemplate instead. A non-empty template without the
// placeholder is returned unchanged: the input is dropped.
func Render(tmpl, userInput string) string {
	if tmpl == "" {
		tmpl = FallbackTemplate
	}
	return strings.ReplaceAll(tmpl, Placeholder, userInput)
}

// HasPlaceholder reports whether tmpl would include the user's text.
func HasPlaceholder(tmpl string) bool {
	return tmpl == "" || strings.Contains(tmpl, Placeholder)
}
