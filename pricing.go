package agentpay

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Complexity grades how much reasoning a task needs. It scales the base price.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// CategoryOther is the default category for requests the classifier could not place.
const CategoryOther = "other"

var basePrices = map[string]decimal.Decimal{
	"research":    decimal.NewFromInt(2),
	"writing":     decimal.NewFromInt(3),
	"analysis":    decimal.NewFromInt(5),
	"data":        decimal.NewFromInt(4),
	"code":        decimal.NewFromInt(10),
	"website":     decimal.NewFromInt(15),
	CategoryOther: decimal.NewFromInt(1),
}

var complexityMultipliers = map[Complexity]decimal.Decimal{
	ComplexitySimple:  decimal.NewFromInt(1),
	ComplexityMedium:  decimal.RequireFromString("1.5"),
	ComplexityComplex: decimal.RequireFromString("2.5"),
}

var toolCosts = map[string]decimal.Decimal{
	"playwright-mcp": decimal.RequireFromString("0.50"),
	"vercel-mcp":     decimal.RequireFromString("1.00"),
	"browserbase":    decimal.RequireFromString("0.75"),
	"image-gen":      decimal.RequireFromString("0.50"),
	"web-search":     decimal.Zero,
}

// extendedOutputThreshold is the token count above which output is billed extra.
const extendedOutputThreshold = 4000

var extendedOutputRate = decimal.RequireFromString("0.0001")

// minimumTotal is the price floor applied after summing the breakdown.
var minimumTotal = decimal.RequireFromString("1.00")

// PriceLine is one itemized entry of a quote.
type PriceLine struct {
	Item   string `json:"item"`
	Amount string `json:"amount"`
}

// Quote is an itemized price. Total equals the rounded sum of the lines,
// floored at the minimum charge. Amounts are decimal strings with two places.
type Quote struct {
	Total     string      `json:"total"`
	Breakdown []PriceLine `json:"breakdown"`
}

// Calculate prices a task from its classified attributes. It is pure and
// deterministic: identical inputs always yield an identical quote, so the
// price frozen onto a task at creation can be reproduced later.
//
// Unknown categories fall back to the "other" base price. The complexity
// surcharge above 1x is a separate line so the breakdown stays auditable.
// Zero-cost tools are omitted. Output beyond 4000 estimated tokens is billed
// at 0.0001 per token, rounded to the cent.
func Calculate(category string, complexity Complexity, estimatedTokens int, toolsRequired []string) Quote {
	base, ok := basePrices[category]
	if !ok {
		category = CategoryOther
		base = basePrices[CategoryOther]
	}

	lines := []PriceLine{{Item: "base (" + category + ")", Amount: base.StringFixed(2)}}
	sum := base

	if mult, ok := complexityMultipliers[complexity]; ok && mult.GreaterThan(decimal.NewFromInt(1)) {
		extra := base.Mul(mult.Sub(decimal.NewFromInt(1))).Round(2)
		lines = append(lines, PriceLine{Item: "complexity (" + string(complexity) + ")", Amount: extra.StringFixed(2)})
		sum = sum.Add(extra)
	}

	for _, tool := range toolsRequired {
		cost, ok := toolCosts[tool]
		if !ok || cost.IsZero() {
			continue
		}
		lines = append(lines, PriceLine{Item: "tool: " + tool, Amount: cost.StringFixed(2)})
		sum = sum.Add(cost)
	}

	if estimatedTokens > extendedOutputThreshold {
		extra := decimal.NewFromInt(int64(estimatedTokens - extendedOutputThreshold)).Mul(extendedOutputRate).Round(2)
		if extra.IsPositive() {
			lines = append(lines, PriceLine{Item: fmt.Sprintf("extended output (%d tokens)", estimatedTokens-extendedOutputThreshold), Amount: extra.StringFixed(2)})
			sum = sum.Add(extra)
		}
	}

	total := sum.Round(2)
	if total.LessThan(minimumTotal) {
		total = minimumTotal
	}
	return Quote{Total: total.StringFixed(2), Breakdown: lines}
}
