package usage

const perMillion = 1.0 / 1_000_000

// pricing holds flat per-token and per-item rates. Tiered models are not in
// this table; they are handled in callCost.
type pricing struct {
	input  float64 // per token
	output float64 // per token
	image  float64 // per generated image
	video  float64 // per generated video
}

// tierThreshold is the token count at which the pro-model rates step up.
// The tier is chosen from each call's own token count.
const tierThreshold = 200_000

var flatPrices = map[string]pricing{
	// Gemini 2.5 series
	"gemini-2.5-flash":      {input: 0.075 * perMillion, output: 0.30 * perMillion},
	"gemini-2.5-flash-lite": {input: 0.075 * perMillion, output: 0.30 * perMillion},

	// Gemini 2.0 series
	"gemini-2.0-flash":      {input: 0.10 * perMillion, output: 0.40 * perMillion},
	"gemini-2.0-flash-lite": {input: 0.075 * perMillion, output: 0.30 * perMillion},

	// Image editing models
	"gemini-3-pro-image-preview":                {},
	"gemini-2.5-flash-image":                    {image: 0.039},
	"gemini-2.0-flash-preview-image-generation": {},

	// Image generation models
	"imagen-4.0-generate-001":       {image: 0.04},
	"imagen-4.0-ultra-generate-001": {image: 0.06},
	"imagen-4.0-fast-generate-001":  {image: 0.02},
	"imagen-3.0-generate-002":       {image: 0.03},

	// Video generation models, cost per 10-second video
	"veo-3.0-generate-preview":      {video: 4.00},
	"veo-3.0-fast-generate-preview": {video: 1.50},
	"veo-2.0-generate-001":          {video: 3.50},
}

// callCost prices a single completed call. Unknown models cost zero but are
// still counted in the breakdown.
func callCost(model string, inputTokens, outputTokens int64, images, videos int) float64 {
	switch model {
	case "gemini-3-pro-preview":
		return tieredCost(inputTokens, outputTokens, 2.00, 4.00, 12.00, 18.00)
	case "gemini-2.5-pro":
		return tieredCost(inputTokens, outputTokens, 1.25, 2.50, 10.00, 15.00)
	}

	p := flatPrices[model]
	return float64(inputTokens)*p.input +
		float64(outputTokens)*p.output +
		float64(images)*p.image +
		float64(videos)*p.video
}

// tieredCost applies the two-tier per-million rates. Input and output pick
// their tier independently from this call's counts.
func tieredCost(inputTokens, outputTokens int64, inLow, inHigh, outLow, outHigh float64) float64 {
	inRate := inLow
	if inputTokens > tierThreshold {
		inRate = inHigh
	}
	outRate := outLow
	if outputTokens > tierThreshold {
		outRate = outHigh
	}
	return float64(inputTokens)*inRate*perMillion + float64(outputTokens)*outRate*perMillion
}
