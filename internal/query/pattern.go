// Package query implements the three-segment wildcard matcher and the
// cross-account query engine behind the list command.
package query

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kuhlman-labs/mgit/internal/provider"
)

// maxQueryLength bounds the raw query string.
const maxQueryLength = 512

// Pattern is a compiled org/project/repo query. Matching is case-insensitive
// and whole-segment; `*` matches any non-empty run of characters.
type Pattern struct {
	raw     string
	org     segment
	project segment
	repo    segment
}

type segment struct {
	// literal is set for plain segments so the common case skips the regexp.
	literal string
	// any is set for a bare `*`.
	any bool
	re  *regexp.Regexp
}

// Parse compiles a query of the form S1/S2/S3. Queries with fewer or more
// than three segments, empty segments, control characters, or excessive
// length fail with ErrInvalidQuery.
func Parse(raw string) (*Pattern, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty query", provider.ErrInvalidQuery)
	}
	if len(raw) > maxQueryLength {
		return nil, fmt.Errorf("%w: query exceeds %d characters", provider.ErrInvalidQuery, maxQueryLength)
	}
	for _, r := range raw {
		if r < 0x20 || r == 0x7f {
			return nil, fmt.Errorf("%w: query contains control characters", provider.ErrInvalidQuery)
		}
	}

	parts := strings.Split(raw, "/")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected org/project/repo, got %d segment(s)", provider.ErrInvalidQuery, len(parts))
	}

	p := &Pattern{raw: raw}
	for i, dst := range []*segment{&p.org, &p.project, &p.repo} {
		seg, err := compileSegment(parts[i])
		if err != nil {
			return nil, err
		}
		*dst = seg
	}
	return p, nil
}

func compileSegment(s string) (segment, error) {
	if s == "" {
		return segment{}, fmt.Errorf("%w: empty segment", provider.ErrInvalidQuery)
	}
	if s == "*" {
		return segment{any: true}, nil
	}
	if !strings.Contains(s, "*") {
		return segment{literal: strings.ToLower(s)}, nil
	}

	// Fused literal+wildcard: anchor the whole segment, `*` never matches
	// the empty string.
	var sb strings.Builder
	sb.WriteString("(?i)^")
	for i, part := range strings.Split(s, "*") {
		if i > 0 {
			sb.WriteString(".+")
		}
		sb.WriteString(regexp.QuoteMeta(part))
	}
	sb.WriteString("$")

	re, err := regexp.Compile(sb.String())
	if err != nil {
		return segment{}, fmt.Errorf("%w: %v", provider.ErrInvalidQuery, err)
	}
	return segment{re: re}, nil
}

func (s segment) match(value string) bool {
	if s.any {
		return value != ""
	}
	if s.re != nil {
		return s.re.MatchString(value)
	}
	return strings.EqualFold(s.literal, value)
}

// String returns the raw query text.
func (p *Pattern) String() string { return p.raw }

// MatchOrg applies the first segment predicate.
func (p *Pattern) MatchOrg(org string) bool { return p.org.match(org) }

// MatchProject applies the second segment predicate. Synthetic projects pass
// trivially; their placeholder names are opaque to queries.
func (p *Pattern) MatchProject(proj provider.Project) bool {
	if proj.Synthetic {
		return true
	}
	return p.project.match(proj.Name)
}

// MatchRepo applies the third segment predicate.
func (p *Pattern) MatchRepo(name string) bool { return p.repo.match(name) }

// Match applies the full conjunction against a plain triple. A project value
// of "" is treated as synthetic.
func (p *Pattern) Match(org, project, repo string) bool {
	if !p.org.match(org) {
		return false
	}
	if project != "" && !p.project.match(project) {
		return false
	}
	return p.repo.match(repo)
}
