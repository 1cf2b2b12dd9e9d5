package query

import (
	"errors"
	"strings"
	"testing"

	"github.com/kuhlman-labs/mgit/internal/provider"
)

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"empty", ""},
		{"one segment", "org"},
		{"two segments", "org/repo"},
		{"four segments", "a/b/c/d"},
		{"empty middle segment", "myorg//repo"},
		{"empty leading segment", "/proj/repo"},
		{"empty trailing segment", "org/proj/"},
		{"control character", "org/pro\tj/repo"},
		{"too long", strings.Repeat("a", 600) + "/b/c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.query)
			if err == nil {
				t.Fatalf("Parse(%q) succeeded, want error", tt.query)
			}
			if !errors.Is(err, provider.ErrInvalidQuery) {
				t.Errorf("Parse(%q) error = %v, want ErrInvalidQuery", tt.query, err)
			}
		})
	}
}

func TestPatternMatch(t *testing.T) {
	tests := []struct {
		query             string
		org, project, rep string
		want              bool
	}{
		{"acme/pay/api", "acme", "pay", "api", true},
		{"ACME/Pay/API", "acme", "pay", "api", true}, // case-insensitive
		{"acme/pay/api", "acme", "pay", "api2", false},
		{"acme/pay/api", "acme2", "pay", "api", false},
		{"*/*/*", "a", "b", "c", true},
		{"*/*/api*", "acme", "pay", "api", true},
		{"*/*/api*", "acme", "pay", "api-gateway", true},
		{"*/*/api*", "acme", "pay", "capi", false},
		{"*/*/*api", "acme", "pay", "my-api", true},
		{"*/*/*api", "acme", "pay", "api", false}, // `*` never matches empty
		{"*-oss/*/*", "acme-oss", "x", "y", true},
		{"*-oss/*/*", "acme", "x", "y", false},
		{"a*e/*/*", "acme", "x", "y", true},
		{"a*e/*/*", "ae", "x", "y", false},
		{"*c*e/*/*", "acme", "x", "y", true},
		{"acme/pa.y/api", "acme", "pa.y", "api", true}, // dot is literal
		{"acme/pa.y/api", "acme", "paxy", "api", false},
	}
	for _, tt := range tests {
		p, err := Parse(tt.query)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.query, err)
		}
		if got := p.Match(tt.org, tt.project, tt.rep); got != tt.want {
			t.Errorf("%q.Match(%q, %q, %q) = %v, want %v",
				tt.query, tt.org, tt.project, tt.rep, got, tt.want)
		}
	}
}

func TestSyntheticProjectPassesAnySecondSegment(t *testing.T) {
	p, err := Parse("acme/nonexistent-project/api")
	if err != nil {
		t.Fatal(err)
	}
	synthetic := provider.Project{Name: "acme", Organization: "acme", Synthetic: true}
	if !p.MatchProject(synthetic) {
		t.Error("synthetic project must pass the second segment trivially")
	}
	real := provider.Project{Name: "other", Organization: "acme"}
	if p.MatchProject(real) {
		t.Error("real project must honor the second segment")
	}
}
