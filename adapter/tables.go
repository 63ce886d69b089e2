package adapter

import (
	"regexp"
	"strings"
)

// Table-name discovery is a best-effort token scan, not a SQL parser. It
// finds the first identifier after the clauses that name a command's target
// or source tables. Subqueries, CTE bodies, and exotic quoting can defeat
// it; callers treat an empty result as "nothing discovered", never an error.

var (
	mutationTargetRE = regexp.MustCompile("(?is)\\b(?:insert\\s+into|replace\\s+into|update|delete\\s+from)\\s+([`\"\\[]?[a-zA-Z_][\\w$.]*[`\"\\]]?)")
	sourceTableRE    = regexp.MustCompile("(?is)\\b(?:from|join)\\s+([`\"\\[]?[a-zA-Z_][\\w$.]*[`\"\\]]?)")
)

// MutationTargets returns the tables a mutating command writes to, in
// discovery order, lowercased and deduplicated. Returns an empty slice when
// nothing can be discovered.
func MutationTargets(sql string) []string {
	return scanTables(mutationTargetRE, sql)
}

// SourceTables returns the tables a read command selects from (FROM and JOIN
// clauses), used to tag cached results for table-level invalidation.
func SourceTables(sql string) []string {
	return scanTables(sourceTableRE, sql)
}

func scanTables(re *regexp.Regexp, sql string) []string {
	matches := re.FindAllStringSubmatch(sql, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	var tables []string
	for _, m := range matches {
		name := cleanIdent(m[1])
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		tables = append(tables, name)
	}
	return tables
}

// cleanIdent strips quoting characters and lowercases an identifier.
// SQL keywords that the regex can catch in edge cases (e.g. a SELECT right
// after FROM's opening parenthesis never matches, but "select" can appear
// after JOIN LATERAL) are rejected.
func cleanIdent(s string) string {
	s = strings.Trim(s, "`\"[]")
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "select", "lateral", "values", "dual":
		return ""
	}
	return s
}
