// Package detect decides whether the newest observation of the outage
// list differs from the last stored one.
package detect

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/outage-watcher/internal/models"
	"github.com/outage-watcher/pkg/logger"
)

// emptyHash marks an observation with no records.
const emptyHash = "empty"

// Store is the slice of the repository the detector needs.
type Store interface {
	LatestCheck(ctx context.Context) (*models.CheckRecord, error)
}

// Detector compares the current observation against the most recent
// stored check record.
type Detector struct {
	store Store
	log   *logger.Logger
}

// New creates a new change detector
func New(store Store, log *logger.Logger) *Detector {
	return &Detector{
		store: store,
		log:   log.WithComponent("detect"),
	}
}

// Hash computes a stable, non-cryptographic digest over the key fields
// of the record set. Record order does not matter: rows are serialized
// and sorted before hashing.
func Hash(results []models.Outage) string {
	if len(results) == 0 {
		return emptyHash
	}

	rows := make([]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, strings.Join([]string{r.Place, r.DateFrom, r.DateTo, r.Addresses}, "|"))
	}
	sort.Strings(rows)

	h := fnv.New64a()
	h.Write([]byte(strings.Join(rows, "||")))
	return fmt.Sprintf("%016x", h.Sum64())
}

// HasChanged reports whether current differs from the last stored check.
// A first observation with data counts as changed. On lookup failure the
// detector fails open and reports a change: a duplicate notification is
// preferable to a silently missed one.
func (d *Detector) HasChanged(ctx context.Context, current []models.Outage) bool {
	last, err := d.store.LatestCheck(ctx)
	if err != nil {
		d.log.Error().Err(err).Msg("Failed to load latest check, failing open")
		return true
	}

	currentHash := Hash(current)

	if last == nil {
		return len(current) > 0
	}

	changed := last.ResultsHash != currentHash
	d.log.Debug().
		Str("previous_hash", last.ResultsHash).
		Str("current_hash", currentHash).
		Bool("changed", changed).
		Msg("Compared observation against last check")

	return changed
}
