package search

import "strings"

// stopwords covers the high-frequency Russian and English function words
// that carry no search intent.
var stopwords = map[string]bool{
	// Russian
	"и": true, "в": true, "во": true, "не": true, "что": true, "он": true,
	"на": true, "я": true, "с": true, "со": true, "как": true, "а": true,
	"то": true, "все": true, "она": true, "так": true, "его": true,
	"но": true, "да": true, "ты": true, "к": true, "у": true, "же": true,
	"вы": true, "за": true, "бы": true, "по": true, "только": true,
	"ее": true, "мне": true, "было": true, "вот": true, "от": true,
	"меня": true, "еще": true, "нет": true, "о": true, "из": true,
	"ему": true, "теперь": true, "когда": true, "даже": true, "ну": true,
	"вдруг": true, "ли": true, "если": true, "уже": true, "или": true,
	"ни": true, "быть": true, "был": true, "него": true, "до": true,
	"вас": true, "об": true, "для": true, "мы": true, "тебя": true,
	"их": true, "чем": true, "была": true, "сам": true, "чтоб": true,
	"без": true, "будто": true, "чего": true, "раз": true, "тоже": true,
	"себе": true, "под": true, "будет": true, "тогда": true, "кто": true,
	"этот": true, "того": true, "потому": true, "этого": true,
	"какой": true, "ним": true, "здесь": true, "этом": true, "один": true,
	"почти": true, "мой": true, "тем": true, "чтобы": true, "нее": true,
	"сейчас": true, "были": true, "куда": true, "зачем": true,
	"всех": true, "можно": true, "при": true, "об этом": true,
	"про": true, "них": true, "какая": true, "много": true, "разве": true,
	"эти": true, "эта": true, "это": true,
	// English
	"a": true, "an": true, "the": true, "and": true, "or": true,
	"but": true, "if": true, "then": true, "of": true, "at": true,
	"by": true, "for": true, "with": true, "about": true, "to": true,
	"from": true, "in": true, "on": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "it": true,
	"its": true, "this": true, "that": true, "these": true, "those": true,
	"as": true, "not": true, "no": true, "so": true, "what": true,
	"who": true, "when": true, "where": true, "how": true, "why": true,
}

// ParseKeywords normalizes a raw query into search keywords: whitespace
// split, lowercased, stopwords removed, duplicates dropped preserving order.
func ParseKeywords(raw string) []string {
	fields := strings.Fields(raw)
	seen := make(map[string]bool, len(fields))
	keywords := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.ToLower(strings.Trim(f, ".,!?;:\"'()[]{}«»—-"))
		if w == "" || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		keywords = append(keywords, w)
	}
	return keywords
}
