package llm

import (
	"strings"

	"github.com/shopspring/decimal"
)

// modelPrice holds USD prices per 1K tokens.
type modelPrice struct {
	prompt     decimal.Decimal
	completion decimal.Decimal
}

func price(prompt, completion string) modelPrice {
	return modelPrice{
		prompt:     decimal.RequireFromString(prompt),
		completion: decimal.RequireFromString(completion),
	}
}

// prices by model-id prefix; the longest matching prefix wins.
var prices = map[string]modelPrice{
	"gpt-4o-mini":   price("0.00015", "0.0006"),
	"gpt-4o":        price("0.0025", "0.01"),
	"gpt-4.1-mini":  price("0.0004", "0.0016"),
	"gpt-4.1":       price("0.002", "0.008"),
	"gpt-3.5-turbo": price("0.0005", "0.0015"),
}

var defaultPrice = price("0.001", "0.002")

var thousand = decimal.NewFromInt(1000)

// CostEstimate computes the estimated USD cost of one completion to six
// decimal places. Unknown models fall back to a conservative default price.
func CostEstimate(model string, usage Usage) decimal.Decimal {
	p := defaultPrice
	bestLen := 0
	for prefix, candidate := range prices {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			p = candidate
			bestLen = len(prefix)
		}
	}
	promptCost := p.prompt.Mul(decimal.NewFromInt(int64(usage.PromptTokens))).Div(thousand)
	completionCost := p.completion.Mul(decimal.NewFromInt(int64(usage.CompletionTokens))).Div(thousand)
	return promptCost.Add(completionCost).Round(6)
}
