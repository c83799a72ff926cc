package comm

import (
	"fmt"
	"net/url"
	"strings"
)

// Field filter suffixes understood by the transaction list endpoints
const (
	opGt       = "_gt"
	opLt       = "_lt"
	opGte      = "_gte"
	opLte      = "_lte"
	opEquals   = "_equals"
	opExact    = "_exact"
	opContains = "_contains"
)

type filter struct {
	name  string
	op    string
	value interface{}
}

// Query builds the filter string appended to a method's transaction list,
// e.g. NewQuery().In("name", "Java").Ex("assetId", "1234").
// Filters are rendered in the order they were added.
type Query struct {
	filters []filter
}

func NewQuery() *Query {
	return &Query{}
}

func (q *Query) add(name, op string, value interface{}) *Query {
	q.filters = append(q.filters, filter{name: name, op: op, value: value})
	return q
}

// Gt filters numeric fields greater than value
func (q *Query) Gt(name string, value interface{}) *Query { return q.add(name, opGt, value) }

func (q *Query) Lt(name string, value interface{}) *Query { return q.add(name, opLt, value) }

func (q *Query) Gte(name string, value interface{}) *Query { return q.add(name, opGte, value) }

func (q *Query) Lte(name string, value interface{}) *Query { return q.add(name, opLte, value) }

func (q *Query) Eq(name string, value interface{}) *Query { return q.add(name, opEquals, value) }

// Ex matches string fields exactly
func (q *Query) Ex(name string, value string) *Query { return q.add(name, opExact, value) }

// In matches string fields containing value
func (q *Query) In(name string, value string) *Query { return q.add(name, opContains, value) }

func (q *Query) Is(name string, value bool) *Query { return q.add(name, opExact, value) }

// Encode renders the query string including the leading '?', or "" when empty
func (q *Query) Encode() string {
	if q == nil || len(q.filters) == 0 {
		return ""
	}

	parts := make([]string, 0, len(q.filters))
	for _, f := range q.filters {
		parts = append(parts, f.name+f.op+"="+url.QueryEscape(fmt.Sprint(f.value)))
	}
	return "?" + strings.Join(parts, "&")
}

func (q *Query) String() string {
	return q.Encode()
}
