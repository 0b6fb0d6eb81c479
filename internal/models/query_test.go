package models

import (
	"errors"
	"reflect"
	"testing"
)

func TestNormalizeQuery(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    string
		wantErr bool
	}{
		{"empty query", "", "", true},
		{"whitespace only", "  \t\n", "", true},
		{"trims", "  hello world ", "hello world", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeQuery(tt.query)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeQuery() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrEmptyQuery) {
				t.Errorf("error = %v, want ErrEmptyQuery", err)
			}
			if got != tt.want {
				t.Errorf("NormalizeQuery() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestQueryTerms(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{"Machine Learning", []string{"machine", "learning"}},
		{"go is ok", nil},
		{"  Bread   to  bake ", []string{"bread", "bake"}},
		{"été", []string{"été"}},
	}
	for _, tt := range tests {
		got := QueryTerms(tt.query)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("QueryTerms(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}
