// Package version defines orderings over opaque version tokens.
//
// A version token is an opaque string describing how much ingested data an index
// engine has incorporated. Tokens carry no intrinsic order; an Ordering supplies it.
// The empty string stands for a missing (null) token.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Ordering is a total order over version tokens.
//
// Compare returns -1 if a < b, 0 if a == b and +1 if a > b.
// Implementations must be transitive and antisymmetric and safe for concurrent use.
type Ordering interface {
	Compare(a, b string) int
	Name() string
}

const (
	// NameLexicographic selects the byte-wise string ordering.
	NameLexicographic = "string"
	// NameNumeric selects the int64 ordering.
	NameNumeric = "numeric"
)

// Lexicographic orders tokens byte-wise. The empty token sorts before any other token.
type Lexicographic struct{}

// Compare implements Ordering.
func (Lexicographic) Compare(a, b string) int {
	return strings.Compare(a, b)
}

// Name implements Ordering.
func (Lexicographic) Name() string { return NameLexicographic }

// Numeric orders tokens as signed 64-bit decimals. The empty token is zero.
//
// Tokens that are not valid int64 decimals sort before every numeric token and
// byte-wise among themselves, which keeps the order total.
type Numeric struct{}

// Compare implements Ordering.
func (Numeric) Compare(a, b string) int {
	av, aok := parseNumeric(a)
	bv, bok := parseNumeric(b)

	switch {
	case aok && bok:
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case !aok && !bok:
		return strings.Compare(a, b)
	case !aok:
		return -1
	default:
		return 1
	}
}

// Name implements Ordering.
func (Numeric) Name() string { return NameNumeric }

// Parse returns the numeric value of token. Empty tokens are zero.
func (Numeric) Parse(token string) (int64, error) {
	if token == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("version: invalid numeric token %q: %w", token, err)
	}
	return v, nil
}

func parseNumeric(token string) (int64, bool) {
	if token == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Default is the ordering used when none is configured.
var Default Ordering = Lexicographic{}

// ByName returns a built-in ordering by its configuration name.
func ByName(name string) (Ordering, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameLexicographic, "lexicographic":
		return Lexicographic{}, nil
	case NameNumeric, "long":
		return Numeric{}, nil
	default:
		return nil, fmt.Errorf("version: unknown ordering %q", name)
	}
}

// Max returns the greatest token under o. It returns "" for no tokens.
func Max(o Ordering, tokens ...string) string {
	if len(tokens) == 0 {
		return ""
	}
	maxToken := tokens[0]
	for _, t := range tokens[1:] {
		if o.Compare(maxToken, t) < 0 {
			maxToken = t
		}
	}
	return maxToken
}

// Min returns the smallest token under o. It returns "" for no tokens.
func Min(o Ordering, tokens ...string) string {
	if len(tokens) == 0 {
		return ""
	}
	minToken := tokens[0]
	for _, t := range tokens[1:] {
		if o.Compare(t, minToken) < 0 {
			minToken = t
		}
	}
	return minToken
}

// AtLeast reports whether current is ordered greater than or equal to target.
func AtLeast(o Ordering, current, target string) bool {
	return o.Compare(current, target) >= 0
}
