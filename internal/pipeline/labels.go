package pipeline

// LabelColor is a label's display color pair, constrained to the mail
// provider's accepted palette.
type LabelColor struct {
	Background string `json:"background"`
	Text       string `json:"text"`
}

// Provider color palette (subset). Values outside this set are rejected by
// the label API.
var (
	colorRed        = LabelColor{Background: "#cc3a21", Text: "#ffffff"}
	colorOrange     = LabelColor{Background: "#ff6d01", Text: "#ffffff"}
	colorYellow     = LabelColor{Background: "#fad165", Text: "#000000"}
	colorGreen      = LabelColor{Background: "#16a765", Text: "#ffffff"}
	colorBlue       = LabelColor{Background: "#4a86e8", Text: "#ffffff"}
	colorPurple     = LabelColor{Background: "#7a4199", Text: "#ffffff"}
	colorGray       = LabelColor{Background: "#666666", Text: "#ffffff"}
	colorLightGreen = LabelColor{Background: "#43d692", Text: "#ffffff"}
	colorCyan       = LabelColor{Background: "#00bfa5", Text: "#ffffff"}
	colorLightBlue  = LabelColor{Background: "#4fc3f7", Text: "#ffffff"}
	colorLightGray  = LabelColor{Background: "#999999", Text: "#ffffff"}
	colorLightRed   = LabelColor{Background: "#e07798", Text: "#ffffff"}
)

// labelColors maps every known label to its palette entry.
var labelColors = map[string]LabelColor{
	// Intent labels
	"Inquiry":             colorBlue,
	"Status":              colorPurple,
	"Complaint":           colorRed,
	"Pricing-Negotiation": colorOrange,
	"Proposal":            colorCyan,
	"Logistics":           colorGreen,
	"Acknowledgement":     colorGray,
	"Status-of-Inquiry":   colorLightBlue,
	"Unclassified":        colorLightGray,

	// Sentiment labels
	"Higher-Positive": colorLightGreen,
	"Positive":        colorGreen,
	"Neutral":         colorYellow,
	"Negative":        colorLightRed,
	"Higher-Negative": colorRed,
}

// intentLabels maps classifier intent categories to label names.
var intentLabels = map[string]string{
	"Status":              "Status",
	"Complaint":           "Complaint",
	"Inquiry":             "Inquiry",
	"Pricing Negotiation": "Pricing-Negotiation",
	"Proposal":            "Proposal",
	"Logistics":           "Logistics",
	"Acknowledgement":     "Acknowledgement",
	"Status of Inquiry":   "Status-of-Inquiry",
	"Unknown":             "Unclassified",
}

// sentimentLabels maps classifier sentiment categories to label names.
var sentimentLabels = map[string]string{
	"Higher Positive": "Higher-Positive",
	"Positive":        "Positive",
	"Neutral":         "Neutral",
	"Negative":        "Negative",
	"Higher Negative": "Higher-Negative",
}

// IntentLabel converts an intent category to its label name. Unrecognized
// categories map to Unclassified.
func IntentLabel(intent string) string {
	if label, ok := intentLabels[intent]; ok {
		return label
	}
	return "Unclassified"
}

// SentimentLabel converts a sentiment category to its label name.
// Unrecognized categories map to Neutral.
func SentimentLabel(sentiment string) string {
	if label, ok := sentimentLabels[sentiment]; ok {
		return label
	}
	return "Neutral"
}

// ColorFor returns the display color for a label. Unknown labels get the
// light gray fallback.
func ColorFor(label string) LabelColor {
	if color, ok := labelColors[label]; ok {
		return color
	}
	return colorLightGray
}

// Palette returns every known label with its display color, for clients that
// render labels (IMAP keyword flags carry no color of their own).
func Palette() map[string]LabelColor {
	palette := make(map[string]LabelColor, len(labelColors))
	for label, color := range labelColors {
		palette[label] = color
	}
	return palette
}
