// Package classifier implements the Task Classifier (C4): a deterministic,
// side-effect-free mapping from request text to a TaskClassification. Pattern
// tables are data, not code — they are loaded from YAML and compiled once,
// with an optional fsnotify watch to recompile on change.
package classifier

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// PatternTable is the raw, YAML-shaped configuration for the classifier's
// regex sets. Every field is a list of case-insensitive regex fragments
// joined into a single alternation at compile time.
type PatternTable struct {
	Trivial      []string `yaml:"trivial"`
	Code         []string `yaml:"code"`
	Math         []string `yaml:"math"`
	ToolUse      []string `yaml:"tool_use"`
	Creative     []string `yaml:"creative"`
	Analysis     []string `yaml:"analysis"`
	Reasoning    []string `yaml:"reasoning"`
	Connectives  []string `yaml:"connectives"`
	FencedCode   []string `yaml:"fenced_code"`
}

// DefaultPatternTable returns the built-in pattern table used when no
// pattern_file is configured. It encodes the category/trivial/complexity
// vocabulary named in the classification algorithm.
func DefaultPatternTable() PatternTable {
	return PatternTable{
		Trivial: []string{
			`^(hi|hello|hey|yo|sup)[!.]?$`,
			`^(thanks|thank you|thx|ty)[!.]?$`,
			`^(ok|okay|yes|no|yep|nope|sure|cool|great)[!.]?$`,
			`^good (morning|afternoon|evening|night)[!.]?$`,
		},
		Code: []string{
			`\b(func|function|class|def|package|import|struct|interface)\b`,
			`\b(select|insert|update|delete)\b`,
			`\b(bug|debug|stack trace|traceback|exception|compile error)\b`,
			`\b(python|golang|rust|javascript|typescript|java|c\+\+)\b`,
		},
		Math: []string{
			`\b(add|subtract|multiply|divide|sum|calculate|compute|factorial|derivative|integral)\b`,
			`\d+\s*[\+\-\*/\^%]\s*\d+`,
		},
		ToolUse: []string{
			`\b(run|execute|fetch|browse|shell|download)\b`,
			`\b(url|https?://)\b`,
			`\b(file|directory|folder|path)\b`,
		},
		Creative: []string{
			`\b(write|compose|draft|generate|invent|imagine)\b`,
		},
		Analysis: []string{
			`\b(analyze|compare|evaluate|assess|review)\b`,
		},
		Reasoning: []string{
			`\b(why|because|reason|logic|think|explain)\b`,
		},
		Connectives: []string{
			`\b(then|next|after that|also|additionally|furthermore)\b`,
		},
		FencedCode: []string{
			"```",
		},
	}
}

// compiled holds the regexes built from a PatternTable, one alternation per
// category, ready for MatchString calls.
type compiled struct {
	trivial     *regexp.Regexp
	code        *regexp.Regexp
	math        *regexp.Regexp
	toolUse     *regexp.Regexp
	creative    *regexp.Regexp
	analysis    *regexp.Regexp
	reasoning   *regexp.Regexp
	connectives *regexp.Regexp
	fencedCode  *regexp.Regexp
}

func compilePatternTable(t PatternTable) (*compiled, error) {
	build := func(parts []string) (*regexp.Regexp, error) {
		if len(parts) == 0 {
			return nil, nil
		}
		joined := "(?i)(" + parts[0]
		for _, p := range parts[1:] {
			joined += "|" + p
		}
		joined += ")"
		return regexp.Compile(joined)
	}

	var c compiled
	var err error
	for _, step := range []struct {
		dst  **regexp.Regexp
		list []string
	}{
		{&c.trivial, t.Trivial},
		{&c.code, t.Code},
		{&c.math, t.Math},
		{&c.toolUse, t.ToolUse},
		{&c.creative, t.Creative},
		{&c.analysis, t.Analysis},
		{&c.reasoning, t.Reasoning},
		{&c.connectives, t.Connectives},
		{&c.fencedCode, t.FencedCode},
	} {
		*step.dst, err = build(step.list)
		if err != nil {
			return nil, fmt.Errorf("classifier: compile pattern set: %w", err)
		}
	}
	return &c, nil
}

// LoadPatternTable reads and parses a pattern table YAML file from disk.
func LoadPatternTable(path string) (PatternTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PatternTable{}, fmt.Errorf("classifier: read pattern file: %w", err)
	}
	var t PatternTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return PatternTable{}, fmt.Errorf("classifier: parse pattern file: %w", err)
	}
	return t, nil
}
