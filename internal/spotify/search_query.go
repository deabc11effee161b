package spotify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bendikrb/spotcast/internal/core"
)

var (
	allowedFilters = []string{
		"album",
		"artist",
		"track",
		"year",
		"upc",
		"isrc",
		"genre",
	}

	allowedTags = []string{
		"hipster",
		"new",
	}

	allowedItemTypes = []string{
		"album",
		"artist",
		"playlist",
		"track",
		"show",
		"episode",
		"audiobook",
	}
)

// SearchQuery is an immutable, validated search request. Construction
// fails when the item type, a filter key or a tag falls outside its
// allow-set, before any network work happens.
type SearchQuery struct {
	Search   string
	ItemType string
	Filters  map[string]string
	Tags     []string
}

func NewSearchQuery(search, itemType string, filters map[string]string, tags []string) (*SearchQuery, error) {
	if !contains(allowedItemTypes, itemType) {
		return nil, &core.InvalidQueryError{Field: "item type", Value: itemType, Allowed: allowedItemTypes}
	}

	for key := range filters {
		if !contains(allowedFilters, key) {
			return nil, &core.InvalidQueryError{Field: "filter", Value: key, Allowed: allowedFilters}
		}
	}

	for _, tag := range tags {
		if !contains(allowedTags, tag) {
			return nil, &core.InvalidQueryError{Field: "tag", Value: tag, Allowed: allowedTags}
		}
	}

	return &SearchQuery{
		Search:   search,
		ItemType: itemType,
		Filters:  filters,
		Tags:     tags,
	}, nil
}

// QueryString renders the query in the `search key:value tag:name` form
// the API expects. Filters render in sorted key order so the result is
// deterministic.
func (q *SearchQuery) QueryString() string {
	query := q.Search

	if len(q.Filters) > 0 {
		keys := make([]string, 0, len(q.Filters))
		for key := range q.Filters {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		parts := make([]string, 0, len(keys))
		for _, key := range keys {
			parts = append(parts, fmt.Sprintf("%s:%s", key, q.Filters[key]))
		}
		query += " " + strings.Join(parts, " ")
	}

	if len(q.Tags) > 0 {
		parts := make([]string, 0, len(q.Tags))
		for _, tag := range q.Tags {
			parts = append(parts, "tag:"+tag)
		}
		query += " " + strings.Join(parts, " ")
	}

	return query
}

func contains(allowed []string, value string) bool {
	for _, item := range allowed {
		if item == value {
			return true
		}
	}
	return false
}
