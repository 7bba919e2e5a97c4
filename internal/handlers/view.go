package handlers

import (
	"encoding/base64"
	"fmt"
	"html/template"
	"net/http"

	"github.com/Brownie44l1/xray-api/internal/pipeline"
)

const (
	colorPositive = "#dc3545"
	colorNegative = "#28a745"
)

// ResultView is the presentation of one classification: everything the
// result panel needs, already formatted.
type ResultView struct {
	Title    string
	Percent  string
	BarColor string
	BoxClass string
	Advisory string
	ID       string
	// Image is the uploaded X-ray as a data URI, empty for non-image bytes.
	Image template.URL
}

type pageData struct {
	Result *ResultView
	Error  string
}

func NewResultView(r pipeline.Result) ResultView {
	v := ResultView{
		Percent:  FormatPercent(r.DisplayedProbability),
		Advisory: r.Advisory,
		ID:       r.ID,
	}
	if r.Label == pipeline.Positive {
		v.Title = "Tuberculosis detected"
		v.BarColor = colorPositive
		v.BoxClass = "positive"
	} else {
		v.Title = "Normal lungs"
		v.BarColor = colorNegative
		v.BoxClass = "negative"
	}
	return v
}

// FormatPercent renders a probability as a percentage with two decimals,
// e.g. 0.87432 -> "87.43%".
func FormatPercent(p float32) string {
	return fmt.Sprintf("%.2f%%", float64(p)*100)
}

// imageDataURI embeds an uploaded JPEG or PNG so the result page can show it.
func imageDataURI(raw []byte) template.URL {
	mime := http.DetectContentType(raw)
	if mime != "image/jpeg" && mime != "image/png" {
		return ""
	}
	return template.URL("data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(raw))
}
