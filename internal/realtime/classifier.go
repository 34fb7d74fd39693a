package realtime

import (
	"context"

	"github.com/andenapp/anden/internal/models"
)

// Classification is what the external alert classifier produces for a
// Renfe service alert.
type Classification struct {
	Severity         string
	Status           string
	Summary          string
	AffectedSegments string
}

// Classifier enriches alerts with severity and summary fields. It is an
// optional collaborator: a nil Classifier disables enrichment, and a
// failing one never blocks alert persistence.
type Classifier interface {
	Classify(ctx context.Context, alert models.Alert) (Classification, error)
}
