// Package ids maps operator-native identifiers into the canonical
// namespace. Canonical form is <NETWORK>_<native>, e.g. RENFE_17000 or
// METRO_BILBAO_7.0. Renfe trip IDs are the one exception: they stay
// unprefixed so they join the static trip table verbatim.
package ids

import (
	"errors"
	"sort"
	"strings"
)

var ErrMalformedID = errors.New("malformed identifier")

// Operator carries the identifier rules of one feed source.
type Operator struct {
	Code        string // registry key, e.g. "renfe"
	Prefix      string // canonical namespace prefix without trailing underscore, e.g. "METRO_BILBAO"
	PrefixTrips bool   // false only for Renfe
}

// VariantSplit rewrites a base route short name into a named variant by
// headsign keyword, falling back to Default. Keys are lowercase substrings.
type VariantSplit struct {
	Keywords map[string]string
	Default  string
}

// Normalizer applies prefix, alias, and variant rules. Safe for
// concurrent use once constructed.
type Normalizer struct {
	prefixes []string          // known prefixes with trailing underscore, longest first
	aliases  map[string]string // canonical id churn, e.g. RENFE_5222 -> RENFE_16403
	variants map[string]VariantSplit
}

// MadridVariants returns the Cercanías Madrid line-split rules: C4 and C8
// run in two branches that the GTFS models as a single route.
func MadridVariants() map[string]VariantSplit {
	return map[string]VariantSplit{
		"C4": {Keywords: map[string]string{"colmenar": "C4b"}, Default: "C4a"},
		"C8": {Keywords: map[string]string{"cercedilla": "C8b"}, Default: "C8a"},
	}
}

// DefaultAliases covers known operator-side ID churn.
func DefaultAliases() map[string]string {
	return map[string]string{
		"RENFE_5222": "RENFE_16403",
	}
}

func NewNormalizer(prefixes []string, aliases map[string]string, variants map[string]VariantSplit) *Normalizer {
	withSep := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		p = strings.TrimSuffix(p, "_")
		if p == "" {
			continue
		}
		withSep = append(withSep, p+"_")
	}
	// Longest first so METRO_BILBAO_ wins over METRO_.
	sort.Slice(withSep, func(i, j int) bool { return len(withSep[i]) > len(withSep[j]) })
	if aliases == nil {
		aliases = map[string]string{}
	}
	if variants == nil {
		variants = map[string]VariantSplit{}
	}
	return &Normalizer{prefixes: withSep, aliases: aliases, variants: variants}
}

// Stop canonicalizes a stop identifier for the given operator.
func (n *Normalizer) Stop(op Operator, raw string) (string, error) {
	return n.prefix(op, raw)
}

// Route canonicalizes a route identifier for the given operator.
func (n *Normalizer) Route(op Operator, raw string) (string, error) {
	return n.prefix(op, raw)
}

// Trip canonicalizes a trip identifier. Operators with PrefixTrips=false
// pass the native ID through untouched apart from trimming.
func (n *Normalizer) Trip(op Operator, raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", ErrMalformedID
	}
	if !op.PrefixTrips {
		return id, nil
	}
	return n.prefix(op, id)
}

func (n *Normalizer) prefix(op Operator, raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", ErrMalformedID
	}
	if !n.hasKnownPrefix(id) {
		id = op.Prefix + "_" + id
	}
	if alias, ok := n.aliases[id]; ok {
		id = alias
	}
	return id, nil
}

func (n *Normalizer) hasKnownPrefix(id string) bool {
	for _, p := range n.prefixes {
		if strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}

// StripKnownPrefix removes the canonical namespace from an ID, returning
// the native part. IDs without a known prefix come back unchanged.
func (n *Normalizer) StripKnownPrefix(id string) string {
	for _, p := range n.prefixes {
		if strings.HasPrefix(id, p) {
			return id[len(p):]
		}
	}
	return id
}

// RouteShortName derives the display short name from a canonical route ID
// and applies the variant-split rules. Route IDs embed the short name as
// the first native token: RENFE_C4_67 -> C4 -> C4a/C4b by headsign.
// Stable under repetition: feeding the result back returns it unchanged.
func (n *Normalizer) RouteShortName(routeID, headsign string) (string, error) {
	if strings.TrimSpace(routeID) == "" {
		return "", ErrMalformedID
	}
	short := n.StripKnownPrefix(routeID)
	if i := strings.IndexByte(short, '_'); i > 0 {
		short = short[:i]
	}
	return n.SplitVariant(short, headsign), nil
}

// SplitVariant applies the per-network variant policy to a bare short name.
func (n *Normalizer) SplitVariant(short, headsign string) string {
	rule, ok := n.variants[short]
	if !ok {
		return short
	}
	lh := strings.ToLower(headsign)
	for kw, variant := range rule.Keywords {
		if strings.Contains(lh, kw) {
			return variant
		}
	}
	return rule.Default
}
