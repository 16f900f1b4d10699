package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/kestrelai/router/internal/kerr"
	"github.com/kestrelai/router/internal/registry"
)

// Generator is the function a caller supplies to drive an in-process model
// (e.g. a cgo binding to a local inference runtime). It receives the fully
// rendered prompt text and must return the completion or an error.
type Generator func(ctx context.Context, renderedPrompt string) (string, error)

// InProcessAdapter implements the InProcess variant (§6.3): no network hop,
// a single dedicated worker goroutine owns the underlying model handle so
// concurrent Generate calls serialize onto it instead of racing a shared
// runtime context.
type InProcessAdapter struct {
	BaseAdapter
	format    registry.PromptFormat
	generate  Generator
	modelPath string

	requests chan inprocessJob
	done     chan struct{}
}

type inprocessJob struct {
	ctx    context.Context
	prompt string
	reply  chan inprocessResult
}

type inprocessResult struct {
	text string
	err  error
}

var _ Adapter = (*InProcessAdapter)(nil)

// NewInProcessAdapter constructs an adapter around a caller-supplied
// Generator, rendering prompts per format before handing them to it.
func NewInProcessAdapter(modelPath string, format registry.PromptFormat, generate Generator) *InProcessAdapter {
	return &InProcessAdapter{
		BaseAdapter: NewBaseAdapter("in_process", 1, 0),
		format:      format,
		generate:    generate,
		modelPath:   modelPath,
		requests:    make(chan inprocessJob),
		done:        make(chan struct{}),
	}
}

// Initialize starts the dedicated worker goroutine. Calls before
// Initialize or after Close return kerr.Internal.
func (a *InProcessAdapter) Initialize(ctx context.Context) error {
	go a.worker()
	return nil
}

func (a *InProcessAdapter) worker() {
	defer close(a.done)
	for job := range a.requests {
		text, err := a.generate(job.ctx, job.prompt)
		select {
		case job.reply <- inprocessResult{text: text, err: err}:
		case <-job.ctx.Done():
		}
	}
}

// Close stops accepting new work and waits for the worker to drain.
func (a *InProcessAdapter) Close() error {
	close(a.requests)
	<-a.done
	return nil
}

// IsAvailable reports true once the adapter has a generator bound; in-process
// backends have no remote endpoint to probe.
func (a *InProcessAdapter) IsAvailable(ctx context.Context) bool {
	return a.generate != nil
}

// Generate renders the prompt per the adapter's format and dispatches it to
// the worker goroutine, blocking until a reply or the deadline elapses.
func (a *InProcessAdapter) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, req.timeout())
	defer cancel()

	rendered, err := RenderPrompt(a.format, req.System, req.Prompt)
	if err != nil {
		return "", kerr.Wrap(kerr.Validation, err)
	}

	reply := make(chan inprocessResult, 1)
	select {
	case a.requests <- inprocessJob{ctx: ctx, prompt: rendered, reply: reply}:
	case <-ctx.Done():
		return "", kerr.Wrap(kerr.Timeout, ctx.Err())
	}

	select {
	case res := <-reply:
		if res.err != nil {
			if ke, ok := kerr.As(res.err); ok {
				return "", ke
			}
			return "", kerr.Wrap(kerr.Backend, res.err)
		}
		return res.text, nil
	case <-ctx.Done():
		return "", kerr.Wrap(kerr.Timeout, ctx.Err())
	}
}

// RenderPrompt formats system+user text per the four supported prompt
// templates (§6.3). An unsupported tag falls back to GenericTurn rather
// than refusing outright, per the decision recorded for the open question
// on unknown prompt_format_tag handling.
func RenderPrompt(format registry.PromptFormat, system, user string) (string, error) {
	switch format {
	case registry.FormatChatMLv1:
		var b strings.Builder
		if strings.TrimSpace(system) != "" {
			fmt.Fprintf(&b, "<|im_start|>system\n%s<|im_end|>\n", system)
		}
		fmt.Fprintf(&b, "<|im_start|>user\n%s<|im_end|>\n<|im_start|>assistant\n", user)
		return b.String(), nil
	case registry.FormatLlama3v1:
		var b strings.Builder
		b.WriteString("<|begin_of_text|>")
		if strings.TrimSpace(system) != "" {
			fmt.Fprintf(&b, "<|start_header_id|>system<|end_header_id|>\n\n%s<|eot_id|>", system)
		}
		fmt.Fprintf(&b, "<|start_header_id|>user<|end_header_id|>\n\n%s<|eot_id|><|start_header_id|>assistant<|end_header_id|>\n\n", user)
		return b.String(), nil
	case registry.FormatMistralInst:
		var b strings.Builder
		b.WriteString("<s>[INST] ")
		if strings.TrimSpace(system) != "" {
			fmt.Fprintf(&b, "%s\n\n", system)
		}
		fmt.Fprintf(&b, "%s [/INST]", user)
		return b.String(), nil
	case registry.FormatGenericTurn, "":
		var b strings.Builder
		if strings.TrimSpace(system) != "" {
			fmt.Fprintf(&b, "%s\n\n", system)
		}
		fmt.Fprintf(&b, "User: %s\nAssistant:", user)
		return b.String(), nil
	default:
		var b strings.Builder
		if strings.TrimSpace(system) != "" {
			fmt.Fprintf(&b, "%s\n\n", system)
		}
		fmt.Fprintf(&b, "User: %s\nAssistant:", user)
		return b.String(), nil
	}
}
