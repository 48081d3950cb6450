// Package filter evaluates the name-pattern predicates narrowing which
// collections and recipes a run processes.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cookidump/cookidump/config"
)

// matchAll matches any string, including the empty one. Missing pattern
// sides compile to this instead of being special-cased during matching.
const matchAll = ""

// Spec holds the two compiled predicates of a
// collection_pattern[::recipe_pattern] specification.
type Spec struct {
	collection *regexp.Regexp
	recipe     *regexp.Regexp
}

// Parse splits the specification on the first literal "::" and compiles
// both sides. No "::" means the whole string is the collection pattern and
// all recipes match. A malformed expression is a fatal configuration error.
func Parse(spec string) (*Spec, error) {
	collectionPart := spec
	recipePart := matchAll
	if idx := strings.Index(spec, "::"); idx >= 0 {
		collectionPart = spec[:idx]
		recipePart = spec[idx+2:]
	}

	collectionRe, err := regexp.Compile(collectionPart)
	if err != nil {
		return nil, &config.ConfigurationError{Reason: fmt.Sprintf("invalid collection pattern %q: %v", collectionPart, err)}
	}
	recipeRe, err := regexp.Compile(recipePart)
	if err != nil {
		return nil, &config.ConfigurationError{Reason: fmt.Sprintf("invalid recipe pattern %q: %v", recipePart, err)}
	}
	return &Spec{collection: collectionRe, recipe: recipeRe}, nil
}

// MatchAll returns a spec matching every collection and every recipe.
func MatchAll() *Spec {
	s, _ := Parse(matchAll)
	return s
}

func (s *Spec) MatchesCollection(name string) bool {
	return s.collection.MatchString(name)
}

func (s *Spec) MatchesRecipe(name string) bool {
	return s.recipe.MatchString(name)
}
