package registry

import "testing"

func desc(id string, available bool, speed SpeedClass, tps int, caps ...Capability) Descriptor {
	set := make(map[Capability]struct{}, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return Descriptor{
		ID:              id,
		BackendKind:     BackendInProcess,
		ModelPath:       "/models/" + id,
		PromptFormatTag: FormatGenericTurn,
		Capabilities:    set,
		SpeedClass:      speed,
		TokensPerSecond: tps,
		Available:       available,
		QualityGeneral:  0.5,
	}
}

func TestRegisterRejectsDuplicateID(t *testing.T) {
	r := New()
	if err := r.Register(desc("a", true, SpeedFast, 10, CapGeneral)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Register(desc("a", true, SpeedFast, 10, CapGeneral)); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestRegisterValidatesInvariants(t *testing.T) {
	r := New()
	bad := desc("bad", true, SpeedFast, 0, CapGeneral)
	bad.Cost = 1.5
	if err := r.Register(bad); err == nil {
		t.Fatal("expected cost out-of-range error")
	}
}

func TestPickFastestOrdersBySpeedThenTokensThenID(t *testing.T) {
	r := New()
	must(t, r.Register(desc("slow", true, SpeedSlow, 100, CapGeneral)))
	must(t, r.Register(desc("fast-b", true, SpeedFast, 50, CapGeneral)))
	must(t, r.Register(desc("fast-a", true, SpeedFast, 50, CapGeneral)))
	must(t, r.Register(desc("ultra", true, SpeedUltraFast, 1, CapGeneral)))

	got := r.PickFastest(nil)
	if got == nil || got.ID != "ultra" {
		t.Fatalf("expected ultra, got %+v", got)
	}
}

func TestPickFastestTiesBreakByTokensThenID(t *testing.T) {
	r := New()
	must(t, r.Register(desc("a", true, SpeedFast, 10, CapGeneral)))
	must(t, r.Register(desc("b", true, SpeedFast, 20, CapGeneral)))

	got := r.PickFastest(nil)
	if got == nil || got.ID != "b" {
		t.Fatalf("expected b (higher tokens/sec), got %+v", got)
	}
}

func TestPickFastestIgnoresUnavailable(t *testing.T) {
	r := New()
	must(t, r.Register(desc("ultra", false, SpeedUltraFast, 100, CapGeneral)))
	must(t, r.Register(desc("fast", true, SpeedFast, 10, CapGeneral)))

	got := r.PickFastest(nil)
	if got == nil || got.ID != "fast" {
		t.Fatalf("expected fast (ultra unavailable), got %+v", got)
	}
}

func TestPickFastestFiltersByCapability(t *testing.T) {
	r := New()
	must(t, r.Register(desc("ultra-general", true, SpeedUltraFast, 100, CapGeneral)))
	must(t, r.Register(desc("fast-code", true, SpeedFast, 10, CapCode)))

	code := CapCode
	got := r.PickFastest(&code)
	if got == nil || got.ID != "fast-code" {
		t.Fatalf("expected fast-code, got %+v", got)
	}
}

func TestPickBestQualityRespectsCostCapAndTies(t *testing.T) {
	r := New()
	a := desc("a", true, SpeedFast, 10, CapCode)
	a.QualityCode = 0.8
	a.Cost = 0.5
	b := desc("b", true, SpeedFast, 10, CapCode)
	b.QualityCode = 0.8
	b.Cost = 0.2
	over := desc("over-cap", true, SpeedFast, 10, CapCode)
	over.QualityCode = 0.99
	over.Cost = 0.9

	must(t, r.Register(a))
	must(t, r.Register(b))
	must(t, r.Register(over))

	got := r.PickBestQuality(CapCode, 0.6)
	if got == nil || got.ID != "b" {
		t.Fatalf("expected b (same quality, lower cost, within cap), got %+v", got)
	}
}

func TestSetAvailableIsIdempotentAndConsistentAcrossCall(t *testing.T) {
	r := New()
	must(t, r.Register(desc("a", true, SpeedFast, 10, CapGeneral)))
	r.SetAvailable("a", false)
	r.SetAvailable("a", false)
	if got := r.Get("a"); got == nil || got.Available {
		t.Fatalf("expected a to be unavailable, got %+v", got)
	}
	if got := r.PickFastest(nil); got != nil {
		t.Fatalf("expected no candidates, got %+v", got)
	}
}

func TestSetAvailableUnknownIDIsNoop(t *testing.T) {
	r := New()
	r.SetAvailable("missing", true) // must not panic
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
