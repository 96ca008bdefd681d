// Package filter decides which schemas, tables and views a harvest admits.
package filter

import (
	"regexp"

	"github.com/ajitpratap0/harvester/pkg/config"
	"github.com/ajitpratap0/harvester/pkg/harvest/record"
)

// Kind is the namespace level a name is filtered at.
type Kind int

const (
	KindSchema Kind = iota
	KindTable
	KindView
)

func (k Kind) String() string {
	switch k {
	case KindSchema:
		return "schema"
	case KindTable:
		return "table"
	case KindView:
		return "view"
	default:
		return "unknown"
	}
}

// Reason is the status message recorded for an item skipped at kind.
func (k Kind) Reason() string {
	switch k {
	case KindSchema:
		return "Schema pattern not allowed"
	case KindView:
		return "View pattern not allowed"
	default:
		return "Table pattern not allowed"
	}
}

type patternSet struct {
	includes []*regexp.Regexp
	excludes []*regexp.Regexp
}

func (p patternSet) skip(name string) bool {
	for _, re := range p.excludes {
		if re.MatchString(name) {
			return true
		}
	}
	if len(p.includes) == 0 {
		return false
	}
	for _, re := range p.includes {
		if re.MatchString(name) {
			return false
		}
	}
	return true
}

// Engine holds the compiled pattern sets. It is safe for concurrent use.
type Engine struct {
	sets map[Kind]patternSet
}

// New compiles the filter patterns of cfg. Malformed expressions are
// returned as configuration errors. Views use the table patterns unless a
// view pattern set is configured.
func New(cfg config.IngestionConfig) (*Engine, error) {
	e := &Engine{sets: make(map[Kind]patternSet, 3)}

	viewPatterns := cfg.ViewFilter
	if viewPatterns.IsEmpty() {
		viewPatterns = cfg.TableFilter
	}

	for kind, fp := range map[Kind]config.FilterPattern{
		KindSchema: cfg.SchemaFilter,
		KindTable:  cfg.TableFilter,
		KindView:   viewPatterns,
	} {
		includes, excludes, err := fp.Compile()
		if err != nil {
			return nil, err
		}
		e.sets[kind] = patternSet{includes: includes, excludes: excludes}
	}
	return e, nil
}

// ShouldSkip reports whether the item named fqn is filtered out at kind.
// Only the last segment of fqn is matched. Exclusion wins over inclusion.
func (e *Engine) ShouldSkip(kind Kind, fqn string) bool {
	set, ok := e.sets[kind]
	if !ok {
		return false
	}
	return set.skip(record.Last(fqn))
}
