package classifier

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/kestrelai/router/internal/registry"
)

func TestClassifyTrivialGreeting(t *testing.T) {
	c := NewDefault()
	got := c.Classify("hi")
	want := TaskClassification{
		Complexity:            Trivial,
		Category:              CategoryGreeting,
		RequiredCapabilities:  []registry.Capability{registry.CapGeneral},
		EstimatedOutputTokens: 50,
		RequiresTools:         false,
		Confidence:            0.95,
	}
	assertClassification(t, got, want)
}

func TestClassifyCodeRequestHasCodeCapabilitiesAndNoToolIntent(t *testing.T) {
	c := NewDefault()
	got := c.Classify("write a python function that returns fibonacci(n)")
	if got.Category != CategoryCode {
		t.Fatalf("expected Code category, got %v", got.Category)
	}
	if len(got.RequiredCapabilities) == 0 || got.RequiredCapabilities[0] != registry.CapCode {
		t.Fatalf("expected primary capability Code, got %v", got.RequiredCapabilities)
	}
	if got.RequiresTools {
		t.Fatal("expected requires_tools=false for a pure code-writing request")
	}
	if got.Confidence != 0.7 {
		t.Fatalf("expected confidence 0.7, got %v", got.Confidence)
	}
	if got.EstimatedOutputTokens < 50 || got.EstimatedOutputTokens > 2000 {
		t.Fatalf("estimated tokens out of bounds: %d", got.EstimatedOutputTokens)
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	c := NewDefault()
	text := "analyze the tradeoffs between these two approaches and explain why one is better"
	first := c.Classify(text)
	for i := 0; i < 20; i++ {
		if got := c.Classify(text); !reflect.DeepEqual(got, first) {
			t.Fatalf("classify not deterministic on iteration %d: %+v vs %+v", i, got, first)
		}
	}
}

func TestClassifyMathCategory(t *testing.T) {
	c := NewDefault()
	got := c.Classify("please calculate 47 + 89 for me quickly")
	if got.Category != CategoryMath {
		t.Fatalf("expected Math, got %v", got.Category)
	}
	if got.RequiredCapabilities[0] != registry.CapMath {
		t.Fatalf("expected primary capability Math, got %v", got.RequiredCapabilities)
	}
}

func TestClassifyToolUseCategory(t *testing.T) {
	c := NewDefault()
	got := c.Classify("please fetch the contents of https://example.com/data.json for me")
	if got.Category != CategoryToolUse {
		t.Fatalf("expected ToolUse, got %v", got.Category)
	}
	if !got.RequiresTools {
		t.Fatal("expected requires_tools=true")
	}
	if got.RequiredCapabilities[0] != registry.CapFunctionCalling {
		t.Fatalf("expected primary capability FunctionCalling, got %v", got.RequiredCapabilities)
	}
}

func TestClassifyFencedCodeForcesVeryComplex(t *testing.T) {
	c := NewDefault()
	text := "here is the function\n```go\nfunc add(a, b int) int { return a + b }\n```"
	got := c.Classify(text)
	if got.Complexity != VeryComplex {
		t.Fatalf("expected VeryComplex for fenced code, got %v", got.Complexity)
	}
}

func TestClassifyEstimatedTokensAlwaysInBounds(t *testing.T) {
	c := NewDefault()
	inputs := []string{
		"hi",
		strings.Repeat("word ", 3),
		strings.Repeat("word ", 30),
		strings.Repeat("word ", 150),
	}
	for _, in := range inputs {
		got := c.Classify(in)
		if got.EstimatedOutputTokens < 50 || got.EstimatedOutputTokens > 2000 {
			t.Fatalf("input %q: estimated tokens %d out of [50,2000]", in, got.EstimatedOutputTokens)
		}
	}
}

func TestClassifyCompletesWellUnder10ms(t *testing.T) {
	c := NewDefault()
	text := strings.Repeat("analyze this code and tell me why it fails to compile. ", 60) // ~3.3KB
	start := time.Now()
	c.Classify(text)
	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		t.Fatalf("classify took %s, expected < 10ms", elapsed)
	}
}

func TestClassifyReasoningVsAnalysisOrdering(t *testing.T) {
	c := NewDefault()
	// "analyze" is checked before "why", so a text containing both should
	// classify as Analysis, matching category-selection order.
	got := c.Classify("analyze why this approach works better than the alternative")
	if got.Category != CategoryAnalysis {
		t.Fatalf("expected Analysis (checked before Reasoning), got %v", got.Category)
	}
}

func assertClassification(t *testing.T, got, want TaskClassification) {
	t.Helper()
	if got.Complexity != want.Complexity {
		t.Errorf("complexity: got %v want %v", got.Complexity, want.Complexity)
	}
	if got.Category != want.Category {
		t.Errorf("category: got %v want %v", got.Category, want.Category)
	}
	if len(got.RequiredCapabilities) != len(want.RequiredCapabilities) {
		t.Errorf("capabilities: got %v want %v", got.RequiredCapabilities, want.RequiredCapabilities)
	} else {
		for i := range got.RequiredCapabilities {
			if got.RequiredCapabilities[i] != want.RequiredCapabilities[i] {
				t.Errorf("capabilities[%d]: got %v want %v", i, got.RequiredCapabilities[i], want.RequiredCapabilities[i])
			}
		}
	}
	if got.EstimatedOutputTokens != want.EstimatedOutputTokens {
		t.Errorf("estimated_output_tokens: got %d want %d", got.EstimatedOutputTokens, want.EstimatedOutputTokens)
	}
	if got.RequiresTools != want.RequiresTools {
		t.Errorf("requires_tools: got %v want %v", got.RequiresTools, want.RequiresTools)
	}
	if got.Confidence != want.Confidence {
		t.Errorf("confidence: got %v want %v", got.Confidence, want.Confidence)
	}
}
