// Package pricing converts provider usage into diamond costs.
//
// Every function here is pure: the same inputs always produce the same
// cost, so preflight estimates and settlement recomputation share one
// formula.
package pricing

import (
	"math"
	"sort"
)

// Pricing policy constants.
const (
	// DiamondValueYen is the real-currency value of one diamond.
	DiamondValueYen = 0.1
	// ProfitMargin multiplies the provider base cost.
	ProfitMargin = 20
	// MinimumConsumption is the smallest charge for any billable action.
	MinimumConsumption = 1
	// DiamondsPer500Yen is the purchase exchange rate.
	DiamondsPer500Yen = 5000
	// PurchaseUnitYen is the purchase amount granting DiamondsPer500Yen.
	PurchaseUnitYen = 500

	// fallbackDiamondsPerToken prices tokens for unmapped text models.
	fallbackDiamondsPerToken = 0.1
)

// textCostsYenPerToken maps text model IDs to provider base cost per token.
var textCostsYenPerToken = map[string]float64{
	"claude-3-5-sonnet-20241022": 0.000212,
	"claude-3-5-sonnet-20240620": 0.000212,
	"claude-3-5-haiku-20241022":  0.0000446,
	"claude-3-opus-20240229":     0.000847,
	"claude-3-sonnet-20240229":   0.000212,
	"claude-3-haiku-20240307":    0.0001185,
	"gpt-4":                      0.001692,
	"gemini-pro":                 0.0000019,
}

// imageCostsYenPerImage maps image model IDs to provider base cost per image.
var imageCostsYenPerImage = map[string]float64{
	"gemini-imagen3": 2.9,
	"google-imagen4": 2.9,
	"flux-pro-1.1":   2.975,
	"dall-e-3":       2.9,
	"replicate-sdxl": 1.86,
	"midjourney":     2.9,
	"leonardo-ai":    2.9,
}

// CostForText returns the diamond cost for generating tokens with a model.
//
// Unmapped models fall back to a flat per-token rate so billing neither
// fails open nor blocks on a pricing-table gap.
func CostForText(modelID string, tokens int64) int64 {
	if tokens < 0 {
		tokens = 0
	}
	baseCost, ok := textCostsYenPerToken[modelID]
	if !ok {
		return floorAtMinimum(int64(math.Ceil(float64(tokens) * fallbackDiamondsPerToken)))
	}
	totalYen := baseCost * float64(tokens)
	diamonds := int64(math.Ceil(totalYen * ProfitMargin / DiamondValueYen))
	return floorAtMinimum(diamonds)
}

// CostForImage returns the diamond cost for generating one image with a model.
func CostForImage(modelID string) int64 {
	baseCost, ok := imageCostsYenPerImage[modelID]
	if !ok {
		return MinimumConsumption
	}
	diamonds := int64(math.Ceil(baseCost * ProfitMargin / DiamondValueYen))
	return floorAtMinimum(diamonds)
}

// Cost dispatches on action type; images always bill a quantity of one.
func Cost(action string, modelID string, quantity int64) int64 {
	if action == "image" {
		return CostForImage(modelID)
	}
	return CostForText(modelID, quantity)
}

// DiamondsForYen converts a purchase amount to diamonds at the fixed
// pack rate. Amounts between pack boundaries credit proportionally.
func DiamondsForYen(amountYen int64) int64 {
	if amountYen <= 0 {
		return 0
	}
	return amountYen * DiamondsPer500Yen / PurchaseUnitYen
}

// TextModels returns the priced text model IDs in sorted order.
func TextModels() []string {
	return sortedKeys(textCostsYenPerToken)
}

// ImageModels returns the priced image model IDs in sorted order.
func ImageModels() []string {
	return sortedKeys(imageCostsYenPerImage)
}

func sortedKeys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// HasTextModel reports whether a text model has a pricing entry.
func HasTextModel(modelID string) bool {
	_, ok := textCostsYenPerToken[modelID]
	return ok
}

// HasImageModel reports whether an image model has a pricing entry.
func HasImageModel(modelID string) bool {
	_, ok := imageCostsYenPerImage[modelID]
	return ok
}

func floorAtMinimum(diamonds int64) int64 {
	if diamonds < MinimumConsumption {
		return MinimumConsumption
	}
	return diamonds
}
