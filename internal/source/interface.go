// Package source defines the content source collaborator: anything that
// yields raw outage records from a remote document.
package source

import (
	"context"

	"github.com/outage-watcher/internal/models"
)

// Source produces the current list of raw outage records. Fetching is
// the only network-bound step of an observation cycle and must honor
// the context deadline.
type Source interface {
	Fetch(ctx context.Context) ([]models.Outage, error)
}
