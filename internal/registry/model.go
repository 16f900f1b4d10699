// Package registry implements the in-memory model catalog (C1): an
// immutable-after-registration set of model descriptors queried by id,
// capability, speed class, and cost, with a single mutable field
// (availability) written only by health probes.
package registry

import "net/url"

// BackendKind names the transport variant a descriptor's adapter uses.
type BackendKind string

const (
	BackendHTTPChat       BackendKind = "http_chat"
	BackendHTTPCompletion BackendKind = "http_completion"
	BackendInProcess      BackendKind = "in_process"
)

// Capability tags a model as fit for a class of work.
type Capability string

const (
	CapGeneral        Capability = "general"
	CapCode           Capability = "code"
	CapMath           Capability = "math"
	CapReasoning      Capability = "reasoning"
	CapSpeed          Capability = "speed"
	CapVision         Capability = "vision"
	CapFunctionCalling Capability = "function_calling"
)

// SpeedClass buckets expected latency for a short response.
type SpeedClass string

const (
	SpeedUltraFast SpeedClass = "ultra_fast" // < 0.5s
	SpeedFast      SpeedClass = "fast"       // 0.5-1.5s
	SpeedMedium    SpeedClass = "medium"     // 1.5-3s
	SpeedSlow      SpeedClass = "slow"       // 3-5s
	SpeedVerySlow  SpeedClass = "very_slow"  // > 5s
)

// speedRank gives the total order used by PickFastest; lower is faster.
var speedRank = map[SpeedClass]int{
	SpeedUltraFast: 0,
	SpeedFast:      1,
	SpeedMedium:    2,
	SpeedSlow:      3,
	SpeedVerySlow:  4,
}

// PromptFormat names an in-process prompt rendering template (§6.3).
type PromptFormat string

const (
	FormatChatMLv1     PromptFormat = "chatml_v1"
	FormatLlama3v1     PromptFormat = "llama3_v1"
	FormatMistralInst  PromptFormat = "mistral_inst"
	FormatGenericTurn  PromptFormat = "generic_turn"
)

// Descriptor is an immutable (apart from Available) catalog entry for one model.
type Descriptor struct {
	ID             string
	BackendKind    BackendKind
	DisplayName    string
	ParamSizeLabel string
	QuantLabel     string

	Capabilities map[Capability]struct{}
	SpeedClass   SpeedClass

	ContextWindow   int
	TokensPerSecond int // 0 means unknown/absent

	ResourceFloorGB int
	QualityGeneral  float64
	QualityCode     float64
	QualityReasoning float64
	Cost            float64

	// Network backends.
	BackendAddress string

	// In-process backend.
	ModelPath      string
	PromptFormatTag PromptFormat

	Available bool
}

// HasCapability reports whether cap is in the descriptor's capability set.
func (d *Descriptor) HasCapability(cap Capability) bool {
	if d == nil {
		return false
	}
	_, ok := d.Capabilities[cap]
	return ok
}

// QualityFor returns the quality score relevant to cap, per §4.1's mapping:
// General -> quality_general, Code -> quality_code, Reasoning -> quality_reasoning,
// anything else falls back to quality_general.
func (d *Descriptor) QualityFor(cap Capability) float64 {
	switch cap {
	case CapCode:
		return d.QualityCode
	case CapReasoning:
		return d.QualityReasoning
	default:
		return d.QualityGeneral
	}
}

// Validate checks the invariants from §3: unique id is enforced by the
// registry on Register; everything else is checked here per-descriptor.
func (d *Descriptor) Validate() error {
	if d.ID == "" {
		return errInvalid("id is required")
	}
	if d.QualityGeneral < 0 || d.QualityGeneral > 1 ||
		d.QualityCode < 0 || d.QualityCode > 1 ||
		d.QualityReasoning < 0 || d.QualityReasoning > 1 {
		return errInvalid("quality scores must be in [0,1]")
	}
	if d.Cost < 0 || d.Cost > 1 {
		return errInvalid("cost must be in [0,1]")
	}
	switch d.BackendKind {
	case BackendInProcess:
		if d.ModelPath == "" || d.PromptFormatTag == "" {
			return errInvalid("in-process descriptors require model_path and prompt_format_tag")
		}
	case BackendHTTPChat, BackendHTTPCompletion:
		if _, err := url.ParseRequestURI(d.BackendAddress); err != nil {
			return errInvalid("network descriptors require a valid backend_address: " + err.Error())
		}
	default:
		return errInvalid("unknown backend_kind: " + string(d.BackendKind))
	}
	return nil
}

type invalidError string

func (e invalidError) Error() string { return string(e) }

func errInvalid(msg string) error { return invalidError(msg) }

func speedClassRank(s SpeedClass) int {
	if r, ok := speedRank[s]; ok {
		return r
	}
	return len(speedRank)
}
