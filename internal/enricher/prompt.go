package enricher

import (
	"fmt"
	"strings"

	"github.com/tnsehq/tnse/internal/llm"
	"github.com/tnsehq/tnse/internal/store"
)

// Categories is the closed set the model must choose from; anything else
// falls back to "other".
var Categories = []string{
	"politics", "economics", "technology", "sports", "entertainment",
	"health", "military", "crime", "society", "other",
}

var sentiments = map[string]bool{
	"positive": true,
	"negative": true,
	"neutral":  true,
}

const systemPrompt = `You are a news analyst. Analyze the Telegram channel post and respond with a single JSON object with exactly these fields:
- "explicit_keywords": array of salient words and phrases that appear verbatim in the text
- "implicit_keywords": array of related concepts NOT present in the text (topics a reader would search for)
- "category": one of %s
- "sentiment": one of "positive", "negative", "neutral"
- "entities": object with arrays "persons", "organizations", "locations"
Respond with JSON only.`

// BuildMessages produces the completion request payload for one post.
func BuildMessages(text string, maxChars int) []llm.Message {
	return []llm.Message{
		{Role: "system", Content: fmt.Sprintf(systemPrompt, strings.Join(quoted(Categories), ", "))},
		{Role: "user", Content: TruncateAtWord(text, maxChars)},
	}
}

func quoted(items []string) []string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = `"` + s + `"`
	}
	return out
}

// TruncateAtWord cuts text to at most maxChars runes, backing up to the last
// word boundary so no word is split.
func TruncateAtWord(text string, maxChars int) string {
	if maxChars <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	cut := string(runes[:maxChars])
	if idx := strings.LastIndexAny(cut, " \n\t"); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " \n\t")
}

// parseResult validates the model's JSON object, applying the defaults the
// schema promises: missing implicit keywords become empty, out-of-enum
// category becomes "other", out-of-enum sentiment becomes "neutral", and
// missing entity keys become empty sets. Keywords are lowercased, trimmed,
// and deduplicated case-insensitively.
func parseResult(parsed map[string]any) store.Enrichment {
	e := store.Enrichment{
		ExplicitKeywords: normalizeKeywords(stringSlice(parsed["explicit_keywords"])),
		ImplicitKeywords: normalizeKeywords(stringSlice(parsed["implicit_keywords"])),
		Category:         "other",
		Sentiment:        "neutral",
	}

	if raw, ok := parsed["category"].(string); ok {
		cat := strings.ToLower(strings.TrimSpace(raw))
		for _, known := range Categories {
			if cat == known {
				e.Category = cat
				break
			}
		}
	}
	if raw, ok := parsed["sentiment"].(string); ok {
		s := strings.ToLower(strings.TrimSpace(raw))
		if sentiments[s] {
			e.Sentiment = s
		}
	}
	if entities, ok := parsed["entities"].(map[string]any); ok {
		e.Entities = store.Entities{
			Persons:       normalizeKeywords(stringSlice(entities["persons"])),
			Organizations: normalizeKeywords(stringSlice(entities["organizations"])),
			Locations:     normalizeKeywords(stringSlice(entities["locations"])),
		}
	}
	if e.Entities.Persons == nil {
		e.Entities.Persons = []string{}
	}
	if e.Entities.Organizations == nil {
		e.Entities.Organizations = []string{}
	}
	if e.Entities.Locations == nil {
		e.Entities.Locations = []string{}
	}
	return e
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// normalizeKeywords lowercases, trims, and deduplicates preserving order.
func normalizeKeywords(keywords []string) []string {
	seen := make(map[string]bool, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
	}
	return out
}
