package inference

// Variant selectors accepted from clients.
const (
	VariantFast    = "fast"
	VariantQuality = "quality"
)

// Default model names behind each variant.
const (
	DefaultFastModel    = "@cf/meta/llama-3.1-8b-instruct"
	DefaultQualityModel = "@cf/meta/llama-3.1-70b-instruct"
)

// Variants maps client-facing selectors to concrete model names.
// "fast" trades quality for latency and is the default.
type Variants struct {
	Fast    string
	Quality string
}

// DefaultVariants returns the reference model mapping.
func DefaultVariants() Variants {
	return Variants{
		Fast:    DefaultFastModel,
		Quality: DefaultQualityModel,
	}
}

// Resolve returns the model name for a selector. Absent or unrecognized
// selectors fall back to the fast variant.
func (v Variants) Resolve(selector string) string {
	if selector == VariantQuality {
		return v.Quality
	}
	return v.Fast
}

// Normalize collapses a client selector onto the variant it actually
// resolves to, for accounting.
func Normalize(selector string) string {
	if selector == VariantQuality {
		return VariantQuality
	}
	return VariantFast
}
