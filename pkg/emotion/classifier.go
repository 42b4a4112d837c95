package emotion

import (
	"sort"
	"strings"
)

// Classifier names the emotion a sentence should be spoken with. An empty
// result means no opinion.
type Classifier interface {
	Classify(text string) string
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(text string) string

func (f ClassifierFunc) Classify(text string) string { return f(text) }

// KeywordRule maps any of Keywords to Profile.
type KeywordRule struct {
	Profile  string
	Keywords []string
}

// KeywordClassifier returns the profile of the first rule with a keyword
// contained in the text.
type KeywordClassifier struct {
	rules []KeywordRule
}

// DefaultKeywordRules cover the stock profiles for Chinese conversation.
func DefaultKeywordRules() []KeywordRule {
	return []KeywordRule{
		{Profile: "happy", Keywords: []string{"開心", "高興", "哈哈", "太好了", "棒"}},
		{Profile: "sad", Keywords: []string{"難過", "傷心", "遺憾", "抱歉"}},
		{Profile: "gentle", Keywords: []string{"別擔心", "沒關係", "慢慢來"}},
		{Profile: "professional", Keywords: []string{"請問", "您好", "幫助"}},
	}
}

func NewKeywordClassifier(rules []KeywordRule) *KeywordClassifier {
	if len(rules) == 0 {
		rules = DefaultKeywordRules()
	}
	cleaned := make([]KeywordRule, 0, len(rules))
	for _, r := range rules {
		name := strings.ToLower(strings.TrimSpace(r.Profile))
		if name == "" {
			continue
		}
		var kws []string
		for _, kw := range r.Keywords {
			if kw = strings.TrimSpace(kw); kw != "" {
				kws = append(kws, strings.ToLower(kw))
			}
		}
		cleaned = append(cleaned, KeywordRule{Profile: name, Keywords: kws})
	}
	return &KeywordClassifier{rules: cleaned}
}

// RulesFromMap converts config shaped as profile -> keywords. Order follows
// DefaultKeywordRules for known profiles, then the remaining names sorted.
func RulesFromMap(m map[string][]string) []KeywordRule {
	if len(m) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(m))
	var rules []KeywordRule
	for _, def := range DefaultKeywordRules() {
		if kws, ok := m[def.Profile]; ok {
			rules = append(rules, KeywordRule{Profile: def.Profile, Keywords: kws})
			seen[def.Profile] = true
		}
	}
	var rest []string
	for name := range m {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		rules = append(rules, KeywordRule{Profile: name, Keywords: m[name]})
	}
	return rules
}

func (c *KeywordClassifier) Classify(text string) string {
	text = strings.ToLower(text)
	for _, r := range c.rules {
		for _, kw := range r.Keywords {
			if strings.Contains(text, kw) {
				return r.Profile
			}
		}
	}
	return ""
}
