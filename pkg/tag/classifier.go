// File: pkg/tag/classifier.go
package tag

import (
	"strings"

	"github.com/u17g/senditly-go/pkg/env"
	"github.com/u17g/senditly-go/pkg/schemas"
)

// Classifier produces the automation verdict consumed by the orchestrator.
// Evaluated exactly once, at construction; pure and side-effect free.
type Classifier interface {
	Classify(pc env.PageContext) schemas.ClassificationResult
}

// automationUATokens are user-agent substrings that indicate automated
// traffic. Matched case-insensitively.
var automationUATokens = []string{
	"headlesschrome",
	"phantomjs",
	"electron",
	"bot",
	"crawler",
	"spider",
	"curl",
	"wget",
	"python-requests",
}

// HeuristicClassifier flags well-known automation signals in the page
// context. Hosts with their own bot detection substitute their own
// Classifier implementation.
type HeuristicClassifier struct{}

// NewHeuristicClassifier creates the stock classifier.
func NewHeuristicClassifier() *HeuristicClassifier { return &HeuristicClassifier{} }

// Classify implements Classifier. Confidence and reasons are diagnostic;
// only the boolean verdict gates behavior.
func (c *HeuristicClassifier) Classify(pc env.PageContext) schemas.ClassificationResult {
	var (
		score   float64
		reasons []string
	)

	if pc.Webdriver {
		score += 0.9
		reasons = append(reasons, "webdriver flag is set")
	}

	ua := strings.ToLower(pc.UserAgent)
	if ua == "" {
		score += 0.4
		reasons = append(reasons, "empty user agent")
	} else {
		for _, token := range automationUATokens {
			if strings.Contains(ua, token) {
				score += 0.7
				reasons = append(reasons, "user agent contains "+token)
				break
			}
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	return schemas.ClassificationResult{
		IsAutomated: score >= 0.5,
		Confidence:  score,
		Reasons:     reasons,
	}
}
