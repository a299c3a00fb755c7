// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

// Package query parses catalog search strings.
//
// A query is a whitespace-separated list of terms. A bare word or quoted
// phrase must appear in the plugin's name, manufacturer or category. A
// field:value term restricts one field, and a leading '-' excludes matches:
//
//	reverb manufacturer:acme -format:lua "plate hall"
package query

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/samber/oops"

	"github.com/patchbay/patchbay/internal/plugin"
)

// Field names accepted in field:value terms.
const (
	FieldName         = "name"
	FieldManufacturer = "manufacturer"
	FieldCategory     = "category"
	FieldFormat       = "format"
)

var queryLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Field", Pattern: `(?i)(name|manufacturer|category|format):`},
	{Name: "String", Pattern: `"[^"]*"`},
	{Name: "Minus", Pattern: `-`},
	{Name: "Word", Pattern: `[^\s"-][^\s"]*`},
	{Name: "whitespace", Pattern: `\s+`},
})

// ast is the parsed form of a query string.
type ast struct {
	Terms []*term `parser:"@@*"`
}

type term struct {
	Negate bool   `parser:"@'-'?"`
	Field  string `parser:"@Field?"`
	Value  string `parser:"@(String | Word)"`
}

var parser = participle.MustBuild[ast](
	participle.Lexer(queryLexer),
	participle.Unquote("String"),
)

// Term is one condition of a query.
type Term struct {
	// Field is empty for free-text terms.
	Field  string
	Value  string
	Negate bool
}

// String renders the term in query syntax.
func (t Term) String() string {
	var b strings.Builder
	if t.Negate {
		b.WriteByte('-')
	}
	if t.Field != "" {
		b.WriteString(t.Field)
		b.WriteByte(':')
	}
	if strings.ContainsAny(t.Value, " \t") {
		fmt.Fprintf(&b, "%q", t.Value)
	} else {
		b.WriteString(t.Value)
	}
	return b.String()
}

// Query is a parsed search. The zero Query matches everything.
type Query struct {
	Terms []Term
}

// Parse parses a search string.
func Parse(s string) (Query, error) {
	tree, err := parser.ParseString("", s)
	if err != nil {
		return Query{}, oops.In("query").With("query", s).Wrapf(err, "parsing search query")
	}

	q := Query{Terms: make([]Term, 0, len(tree.Terms))}
	for _, t := range tree.Terms {
		q.Terms = append(q.Terms, Term{
			Field:  strings.ToLower(strings.TrimSuffix(t.Field, ":")),
			Value:  t.Value,
			Negate: t.Negate,
		})
	}
	return q, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Query {
	q, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return q
}

// String renders the query in canonical syntax.
func (q Query) String() string {
	parts := make([]string, len(q.Terms))
	for i, t := range q.Terms {
		parts[i] = t.String()
	}
	return strings.Join(parts, " ")
}

// Match reports whether d satisfies every term. Comparisons ignore case;
// name and free text match substrings, the other fields match exactly.
func (q Query) Match(d plugin.Descriptor) bool {
	for _, t := range q.Terms {
		if t.match(d) == t.Negate {
			return false
		}
	}
	return true
}

func (t Term) match(d plugin.Descriptor) bool {
	v := strings.ToLower(t.Value)
	switch t.Field {
	case FieldName:
		return contains(d.Name, v)
	case FieldManufacturer:
		return strings.EqualFold(d.Manufacturer, v)
	case FieldCategory:
		return strings.EqualFold(d.Category, v)
	case FieldFormat:
		return strings.EqualFold(d.Format, v)
	default:
		return contains(d.Name, v) || contains(d.Manufacturer, v) || contains(d.Category, v)
	}
}

func contains(s, lowerSub string) bool {
	return strings.Contains(strings.ToLower(s), lowerSub)
}
