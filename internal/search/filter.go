// Package search parses operator search queries into typed filters over
// the outage audit table.
package search

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultLimit bounds result sets when the query does not name one.
const DefaultLimit = 10

// MaxLimit is the hard ceiling on requested result counts.
const MaxLimit = 100

// Filter is a typed set of search criteria. Empty fields are ignored.
type Filter struct {
	District string
	Place    string
	DateFrom string
	Limit    int
}

// ErrUnknownKey is returned when a query names a filter key the parser
// does not understand. Unknown keys are rejected rather than silently
// ignored so typos do not produce misleading "no results" answers.
type ErrUnknownKey struct {
	Key string
}

func (e *ErrUnknownKey) Error() string {
	return fmt.Sprintf("unknown search key %q", e.Key)
}

// Parse turns a free-text operator query into a Filter.
//
// Tokens of the form key:value set the named field; russian and english
// key aliases are accepted. A bare token without a colon is treated as a
// district filter, matching how operators habitually search.
func Parse(query string) (Filter, error) {
	f := Filter{Limit: DefaultLimit}

	for _, token := range strings.Fields(query) {
		key, value, found := strings.Cut(token, ":")
		if !found {
			f.District = token
			continue
		}

		switch strings.ToLower(key) {
		case "district", "район":
			f.District = value
		case "place", "место":
			f.Place = value
		case "date", "дата":
			f.DateFrom = value
		case "limit", "лимит":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return Filter{}, fmt.Errorf("invalid limit %q", value)
			}
			if n > MaxLimit {
				n = MaxLimit
			}
			f.Limit = n
		default:
			return Filter{}, &ErrUnknownKey{Key: key}
		}
	}

	return f, nil
}

// IsEmpty reports whether the filter constrains anything beyond the limit.
func (f Filter) IsEmpty() bool {
	return f.District == "" && f.Place == "" && f.DateFrom == ""
}
