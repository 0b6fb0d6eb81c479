package models

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrEmptyQuery is returned for a blank search query.
var ErrEmptyQuery = errors.New("query cannot be empty")

// minTermLength is the shortest query word that can match a file name.
const minTermLength = 3

// NormalizeQuery trims the query and rejects it when nothing is left.
func NormalizeQuery(query string) (string, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return "", ErrEmptyQuery
	}
	return q, nil
}

// QueryTerms returns the lowercase whitespace-separated words of query
// that are long enough to be matched against file names.
func QueryTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if utf8.RuneCountInString(w) >= minTermLength {
			terms = append(terms, w)
		}
	}
	return terms
}
