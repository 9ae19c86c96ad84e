package feedback

import "strings"

type Category string

const (
	CategoryCorrection  Category = "correction"
	CategoryImprovement Category = "improvement"
	CategoryRevision    Category = "revision"
)

// Point is one discrete feedback item with its classified category.
type Point struct {
	Text     string   `json:"text"`
	Category Category `json:"category"`
}

// Classifier assigns a category to a feedback point. The default is keyword
// matching; keeping it behind an interface lets a model-backed classifier
// replace it without touching callers.
type Classifier interface {
	Classify(text string) Category
}

// KeywordClassifier is a best-effort heuristic: points without a trigger
// keyword fall back to revision. It will misclassify anything phrased
// without the keywords below.
type KeywordClassifier struct{}

var correctionKeywords = []string{"fix", "correct", "wrong", "error", "mistake"}
var improvementKeywords = []string{"improve", "enhance", "better", "strengthen", "refine"}

func (KeywordClassifier) Classify(text string) Category {
	lowered := strings.ToLower(text)
	for _, kw := range correctionKeywords {
		if strings.Contains(lowered, kw) {
			return CategoryCorrection
		}
	}
	for _, kw := range improvementKeywords {
		if strings.Contains(lowered, kw) {
			return CategoryImprovement
		}
	}
	return CategoryRevision
}

// SplitPoints segments free-form feedback into discrete points on sentence
// and list boundaries.
func SplitPoints(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == ',' || r == ';' || r == '\n'
	})
	var points []string
	for _, f := range fields {
		if trimmed := strings.TrimSpace(f); trimmed != "" {
			points = append(points, trimmed)
		}
	}
	return points
}

// ExtractPoints splits feedback text and classifies each point.
func ExtractPoints(text string, c Classifier) []Point {
	if c == nil {
		c = KeywordClassifier{}
	}
	var points []Point
	for _, p := range SplitPoints(text) {
		points = append(points, Point{Text: p, Category: c.Classify(p)})
	}
	return points
}
