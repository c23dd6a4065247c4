// Package domain defines the core data types shared across the scanner:
// the remote API payload shapes (product assessments and ingredient
// analyses) and the persistence model for the durable assessment cache.
// Payload field names follow the remote API's camelCase JSON contract.
package domain

// Assessment is the computed health assessment for one product, as returned
// by the remote assessment service and as cached locally.
//
// Fields:
//   - Code: the normalized barcode the assessment belongs to.
//   - Name / Brand: product identity for display.
//   - Grade: letter grade "A" (best) through "E" (worst).
//   - RiskRating: coarse risk bucket ("Green", "Yellow", "Red").
//   - Description: optional free-text summary.
//   - ImageURL: optional product image.
//   - Ingredients: ingredient references; per-ingredient detail is fetched
//     separately and cached in the volatile analysis cache.
type Assessment struct {
	Code        string       `json:"code"`
	Name        string       `json:"name"`
	Brand       string       `json:"brand,omitempty"`
	Grade       string       `json:"grade"`
	RiskRating  string       `json:"riskRating,omitempty"`
	Description string       `json:"description,omitempty"`
	ImageURL    string       `json:"imageUrl,omitempty"`
	Ingredients []Ingredient `json:"ingredients,omitempty"`
}

// Ingredient is a lightweight ingredient reference embedded in an Assessment.
type Ingredient struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// IngredientAnalysis is the per-ingredient detail payload served from the
// volatile analysis cache (or the remote API on a miss). It is only requested
// when a result view drills into a specific ingredient.
type IngredientAnalysis struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	RiskLevel string   `json:"riskLevel,omitempty"`
	Summary   string   `json:"summary,omitempty"`
	Concerns  []string `json:"concerns,omitempty"`
}
