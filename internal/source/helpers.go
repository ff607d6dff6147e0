package source

import (
	"html"
	"strings"
	"unicode"

	"civsphere/event-ingester/internal/model"
)

// text strips markup and entities and collapses whitespace.
func (b base) text(s string) string {
	if s == "" {
		return ""
	}
	if strings.ContainsAny(s, "<&") {
		s = html.UnescapeString(b.html.Sanitize(s))
	}
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Small helper used by the API adapters to pick the first non-empty string key
func pickStr(m map[string]any, keys ...string) string {
	return model.RawRecord(m).String(keys...)
}

func pickMap(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}

var reputableOutlets = []string{"bbc", "reuters", "associated press", "ap news"}

// headlineImportance scores a news item from its outlet and wording.
func headlineImportance(outlet, text string) int {
	imp := 5
	o := strings.ToLower(outlet)
	for _, r := range reputableOutlets {
		if strings.Contains(o, r) {
			imp += 2
			break
		}
	}
	lc := strings.ToLower(text)
	if containsAny(lc, "breaking", "urgent", "crisis") {
		imp += 2
	}
	if containsAny(lc, "war", "conflict", "attack") {
		imp++
	}
	if imp > 10 {
		imp = 10
	}
	return imp
}

var knownActors = []string{
	"United States", "USA", "Russia", "China", "European Union", "EU",
	"Ukraine", "NATO", "United Nations", "UN",
}

// participants picks well-known geopolitical actors mentioned in text.
func participants(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	lc := " " + strings.Join(words, " ") + " "
	var out []string
	for _, a := range knownActors {
		if strings.Contains(lc, " "+strings.ToLower(a)+" ") {
			out = append(out, a)
		}
	}
	return out
}

// impactScope guesses how far-reaching an item is from its wording.
func impactScope(text string) string {
	lc := strings.ToLower(text)
	switch {
	case containsAny(lc, "global", "worldwide", "international"):
		return "Global impact"
	case containsAny(lc, "regional", "continent"):
		return "Regional impact"
	case containsAny(lc, "national", "nationwide"):
		return "National impact"
	default:
		return "Local impact"
	}
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
