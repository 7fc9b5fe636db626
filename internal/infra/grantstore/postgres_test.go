package grantstore

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildSearchQuery_CategoryFilterMatchesStoredEncoding(t *testing.T) {
	query, args := buildSearchQuery(Query{Category: "energy"}, 10)

	// Categories are persisted as comma-joined text, so the filter must
	// split the column instead of treating it as an array.
	assert.Contains(t, query, "ANY(string_to_array(categories, ','))")
	assert.NotContains(t, query, "ANY(categories)")
	assert.Equal(t, []any{"energy", 10}, args)
}

func TestBuildSearchQuery_AllFilters(t *testing.T) {
	deadline := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	query, args := buildSearchQuery(Query{
		Keyword:   "solar",
		Agency:    "DOE",
		Category:  "energy",
		OpenAfter: deadline,
	}, 25)

	assert.Equal(t, []any{"solar", "DOE", "energy", deadline, 25}, args)
	for i := 1; i <= len(args); i++ {
		assert.Contains(t, query, fmt.Sprintf("$%d", i))
	}
	assert.Equal(t, 3, strings.Count(query, " AND "),
		"four conditions joined by three ANDs")
}

func TestBuildSearchQuery_NoFilters(t *testing.T) {
	query, args := buildSearchQuery(Query{}, 50)
	assert.NotContains(t, query, "WHERE")
	assert.Equal(t, []any{50}, args)
}
