package shared

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePagination(t *testing.T) {
	cases := []struct {
		query string
		want  Pagination
	}{
		{"", Pagination{Limit: 50, Offset: 0}},
		{"?limit=10&offset=20", Pagination{Limit: 10, Offset: 20}},
		{"?limit=900", Pagination{Limit: 200, Offset: 0}},
		{"?limit=-1&offset=abc", Pagination{Limit: 50, Offset: 0}},
	}
	for _, tc := range cases {
		r := httptest.NewRequest("GET", "/audit/events"+tc.query, nil)
		assert.Equal(t, tc.want, ParsePagination(r, 50, 200), tc.query)
	}
}
