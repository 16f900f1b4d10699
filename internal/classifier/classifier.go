package classifier

import (
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/fsnotify/fsnotify"

	"github.com/kestrelai/router/internal/registry"
)

// Complexity buckets how much work a request is expected to need.
type Complexity string

const (
	Trivial     Complexity = "trivial"
	Simple      Complexity = "simple"
	Moderate    Complexity = "moderate"
	Complex     Complexity = "complex"
	VeryComplex Complexity = "very_complex"
)

// Category names the kind of work a request represents.
type Category string

const (
	CategoryGreeting  Category = "greeting"
	CategoryQuestion  Category = "question"
	CategoryCode      Category = "code"
	CategoryMath      Category = "math"
	CategoryReasoning Category = "reasoning"
	CategoryToolUse   Category = "tool_use"
	CategoryCreative  Category = "creative"
	CategoryAnalysis  Category = "analysis"
)

// complexityMultiplier maps Complexity to the token-estimate multiplier (§4.4 step 5).
var complexityMultiplier = map[Complexity]int{
	Trivial:     1,
	Simple:      2,
	Moderate:    4,
	Complex:     8,
	VeryComplex: 12,
}

// requiredCapabilities maps Category to the ordered capability list (§4.4 step 4).
var requiredCapabilities = map[Category][]registry.Capability{
	CategoryCode:      {registry.CapCode, registry.CapGeneral},
	CategoryMath:      {registry.CapMath, registry.CapGeneral},
	CategoryReasoning: {registry.CapReasoning, registry.CapGeneral},
	CategoryAnalysis:  {registry.CapReasoning, registry.CapGeneral},
	CategoryToolUse:   {registry.CapFunctionCalling, registry.CapGeneral},
}

// TaskClassification is the classifier's output.
type TaskClassification struct {
	Complexity            Complexity
	Category               Category
	RequiredCapabilities   []registry.Capability
	EstimatedOutputTokens  int
	RequiresTools          bool
	Confidence             float64
}

// Classifier holds compiled pattern tables and classifies request text
// deterministically and without side effects. Safe for concurrent use; the
// compiled table may be hot-swapped by Watch without disrupting in-flight calls.
type Classifier struct {
	table atomic.Pointer[compiled]

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New builds a Classifier from the given pattern table.
func New(table PatternTable) (*Classifier, error) {
	c, err := compilePatternTable(table)
	if err != nil {
		return nil, err
	}
	cl := &Classifier{}
	cl.table.Store(c)
	return cl, nil
}

// NewDefault builds a Classifier from DefaultPatternTable.
func NewDefault() *Classifier {
	cl, err := New(DefaultPatternTable())
	if err != nil {
		// DefaultPatternTable is a compile-time constant; a failure here
		// would be a programming error, not a runtime condition.
		panic(err)
	}
	return cl
}

// Watch loads path, installs it, and watches the file for further changes,
// recompiling and atomically swapping the active table on every write. It
// returns once the initial load succeeds; subsequent reload failures are
// reported via onError if non-nil and otherwise leave the prior table active.
func (c *Classifier) Watch(path string, onError func(error)) error {
	table, err := LoadPatternTable(path)
	if err != nil {
		return err
	}
	compiledTable, err := compilePatternTable(table)
	if err != nil {
		return err
	}
	c.table.Store(compiledTable)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}

	c.watchMu.Lock()
	c.watcher = watcher
	c.done = make(chan struct{})
	c.watchMu.Unlock()

	go func() {
		defer watcher.Close()
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				t, err := LoadPatternTable(path)
				if err != nil {
					if onError != nil {
						onError(err)
					}
					continue
				}
				cc, err := compilePatternTable(t)
				if err != nil {
					if onError != nil {
						onError(err)
					}
					continue
				}
				c.table.Store(cc)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(err)
				}
			case <-c.done:
				return
			}
		}
	}()
	return nil
}

// Close stops the file watch started by Watch, if any.
func (c *Classifier) Close() error {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	return nil
}

// Classify implements the deterministic algorithm in step order. It must
// terminate well under 10ms for any input up to 4KB: every step is a bounded
// regex match or token scan over the input, no step is unbounded in the
// length of the text.
func (c *Classifier) Classify(text string) TaskClassification {
	t := c.table.Load()
	trimmed := strings.TrimSpace(text)
	tokens := fields(trimmed)
	tokenCount := len(tokens)

	// Step 1: trivial short-circuit.
	if tokenCount <= 2 || (t.trivial != nil && t.trivial.MatchString(trimmed)) {
		return TaskClassification{
			Complexity:            Trivial,
			Category:              CategoryGreeting,
			RequiredCapabilities:  []registry.Capability{registry.CapGeneral},
			EstimatedOutputTokens: clampTokens(2 * tokenCount),
			RequiresTools:         false,
			Confidence:            0.95,
		}
	}

	// Step 2: category selection, first match wins.
	toolMatched := t.toolUse != nil && t.toolUse.MatchString(trimmed)
	var category Category
	switch {
	case (t.fencedCode != nil && t.fencedCode.MatchString(trimmed)) || (t.code != nil && t.code.MatchString(trimmed)):
		category = CategoryCode
	case t.math != nil && t.math.MatchString(trimmed):
		category = CategoryMath
	case toolMatched:
		category = CategoryToolUse
	case t.creative != nil && t.creative.MatchString(trimmed):
		category = CategoryCreative
	case t.analysis != nil && t.analysis.MatchString(trimmed):
		category = CategoryAnalysis
	case t.reasoning != nil && t.reasoning.MatchString(trimmed):
		category = CategoryReasoning
	default:
		category = CategoryQuestion
	}

	// Step 3: complexity.
	fenced := t.fencedCode != nil && t.fencedCode.MatchString(trimmed)
	questionMarks := strings.Count(trimmed, "?")
	hasConnective := t.connectives != nil && t.connectives.MatchString(trimmed)

	var complexity Complexity
	switch {
	case tokenCount <= 5:
		complexity = Simple
	case fenced || tokenCount > 100:
		complexity = VeryComplex
	case hasConnective || questionMarks > 2 || tokenCount > 50:
		complexity = Complex
	case tokenCount > 20 || questionMarks > 1:
		complexity = Moderate
	default:
		complexity = Simple
	}

	// Step 4: required capabilities.
	caps, ok := requiredCapabilities[category]
	if !ok {
		caps = []registry.Capability{registry.CapGeneral}
	}

	// Step 5: estimated output tokens.
	base := 2 * tokenCount
	estimated := clampTokens(base * complexityMultiplier[complexity])

	// Step 6: requires_tools / confidence.
	confidence := 0.7

	return TaskClassification{
		Complexity:            complexity,
		Category:              category,
		RequiredCapabilities:  caps,
		EstimatedOutputTokens: estimated,
		RequiresTools:         toolMatched,
		Confidence:            confidence,
	}
}

func clampTokens(n int) int {
	if n < 50 {
		return 50
	}
	if n > 2000 {
		return 2000
	}
	return n
}

// fields splits on whitespace the same way strings.Fields does; kept as a
// named helper so the boundary (what counts as a "token" for this
// classifier) is documented at one call site.
func fields(s string) []string {
	return strings.FieldsFunc(s, unicode.IsSpace)
}
