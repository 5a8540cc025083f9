package request

import (
	"regexp"
	"strings"
	"sync"
)

var tokenPattern = regexp.MustCompile(`\{[^}]+\}`)

// Matcher matches concrete addresses against endpoint address patterns,
// extracting the parameter values the pattern's tokens capture. Compiled
// patterns are cached.
type Matcher struct {
	mu       sync.RWMutex
	compiled map[string]*compiledPattern
}

type compiledPattern struct {
	re    *regexp.Regexp
	names []string
}

// NewMatcher creates an empty matcher
func NewMatcher() *Matcher {
	return &Matcher{compiled: make(map[string]*compiledPattern)}
}

// Match reports whether the address matches the pattern and returns the
// extracted parameter values. Each {name} token matches exactly one path
// segment; the match is anchored at both ends.
func (m *Matcher) Match(pattern, address string) (map[string]string, bool) {
	cp, err := m.compile(pattern)
	if err != nil {
		return nil, false
	}

	groups := cp.re.FindStringSubmatch(address)
	if groups == nil {
		return nil, false
	}

	params := make(map[string]string, len(cp.names))
	for i, name := range cp.names {
		params[name] = groups[i+1]
	}
	return params, true
}

func (m *Matcher) compile(pattern string) (*compiledPattern, error) {
	m.mu.RLock()
	cp, ok := m.compiled[pattern]
	m.mu.RUnlock()
	if ok {
		return cp, nil
	}

	names := make([]string, 0, 4)
	var expr strings.Builder
	expr.WriteString("^")
	last := 0
	for _, loc := range tokenPattern.FindAllStringIndex(pattern, -1) {
		expr.WriteString(regexp.QuoteMeta(pattern[last:loc[0]]))
		expr.WriteString(`([^/]+)`)
		names = append(names, pattern[loc[0]+1:loc[1]-1])
		last = loc[1]
	}
	expr.WriteString(regexp.QuoteMeta(pattern[last:]))
	expr.WriteString("$")

	re, err := regexp.Compile(expr.String())
	if err != nil {
		return nil, err
	}

	cp = &compiledPattern{re: re, names: names}
	m.mu.Lock()
	m.compiled[pattern] = cp
	m.mu.Unlock()
	return cp, nil
}
