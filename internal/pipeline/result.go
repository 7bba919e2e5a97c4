package pipeline

// Label is the binary diagnosis hint.
type Label string

const (
	Positive Label = "positive"
	Negative Label = "negative"
)

// Threshold separates Positive from Negative. The comparison is strict, so a
// probability of exactly 0.5 is Negative.
const Threshold float32 = 0.5

const (
	AdvisoryPositive = "Recommendation: consult a pulmonologist for further analysis."
	AdvisoryNegative = "Recommendation: no signs of tuberculosis detected."
)

// Result is the outcome of one classification. It is built once and passed
// around by value.
type Result struct {
	ID    string `json:"id"`
	Label Label  `json:"label"`
	// Probability is the raw model output, P(tuberculosis).
	Probability float32 `json:"probability"`
	// DisplayedProbability is the confidence in Label: p for Positive, 1-p for Negative.
	DisplayedProbability float32 `json:"displayed_probability"`
	Advisory             string  `json:"advisory"`
	InferenceMS          float64 `json:"inference_ms"`
	Cached               bool    `json:"cached"`
}

// Decide applies Threshold to p. The returned probability is the confidence
// in the returned label.
func Decide(p float32) (Label, float32, string) {
	if p > Threshold {
		return Positive, p, AdvisoryPositive
	}
	return Negative, 1 - p, AdvisoryNegative
}

func newResult(p float32) Result {
	label, shown, advisory := Decide(p)
	return Result{
		Label:                label,
		Probability:          p,
		DisplayedProbability: shown,
		Advisory:             advisory,
	}
}
