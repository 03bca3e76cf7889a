package activities

import (
	internal "github.com/nucleus/search-export/internal/activities"
	"github.com/nucleus/search-export/internal/metrics"
	"github.com/nucleus/search-export/internal/search"
)

// Publisher is the artifact publication capability activities accept.
type Publisher = internal.Publisher

// NewActivities re-exports the internal activities constructor for external workers.
func NewActivities(s search.Searcher, publisher Publisher, m *metrics.Metrics) *internal.Activities {
	return internal.NewActivities(s, publisher, m)
}
