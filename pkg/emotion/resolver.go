package emotion

import (
	"regexp"
	"strings"
)

// Resolver maps sentence text to a profile. It never fails: anything it
// cannot resolve becomes neutral.
type Resolver struct {
	table      *Table
	classifier Classifier
}

func NewResolver(table *Table, classifier Classifier) *Resolver {
	if table == nil {
		table = NewTable()
	}
	return &Resolver{table: table, classifier: classifier}
}

func (r *Resolver) Table() *Table { return r.table }

// Resolve prefers a known override, then a known classifier result, then
// neutral.
func (r *Resolver) Resolve(text, override string) Profile {
	if override != "" {
		if p, ok := r.table.Lookup(override); ok {
			return p
		}
	}
	if r.classifier != nil {
		if name := r.classifier.Classify(text); name != "" {
			if p, ok := r.table.Lookup(name); ok {
				return p
			}
		}
	}
	return r.table.Neutral()
}

var overrideTag = regexp.MustCompile(`^\s*\[(?i:emotion)\s*[:=]\s*([A-Za-z_\-]+)\s*\]\s*`)

// ExtractOverride strips a leading "[emotion:name]" tag from generated text
// and returns the cleaned text with the lowercased name.
func ExtractOverride(text string) (string, string) {
	m := overrideTag.FindStringSubmatchIndex(text)
	if m == nil {
		return text, ""
	}
	name := strings.ToLower(text[m[2]:m[3]])
	return text[m[1]:], name
}
