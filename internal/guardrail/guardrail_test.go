package guardrail

import "testing"

func TestClampBoundsMaxSources(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{-1, 1}, // unset sentinel defaults to 1
		{0, 0},
		{1, 1},
		{3, 3},
		{5, 3},
		{100, 3},
	}
	for _, c := range cases {
		got := Clamp(RunRequest{Question: "q", MaxSources: c.in, MaxLinksPerSource: -1}).MaxSources
		if got != c.want {
			t.Fatalf("Clamp(max_sources=%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestClampBoundsMaxLinks(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{-1, 0},
		{0, 0},
		{10, 10},
		{25, 10},
	}
	for _, c := range cases {
		got := Clamp(RunRequest{Question: "q", MaxSources: 1, MaxLinksPerSource: c.in, FollowLinks: true}).MaxLinksPerSource
		if got != c.want {
			t.Fatalf("Clamp(max_links=%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestClampForcesZeroLinksWhenNotFollowing(t *testing.T) {
	rc := Clamp(RunRequest{Question: "q", MaxSources: 2, MaxLinksPerSource: 10, FollowLinks: false})
	if rc.MaxLinksPerSource != 0 {
		t.Fatalf("expected max_links_per_source forced to 0, got %d", rc.MaxLinksPerSource)
	}
}

func TestClampIsDeterministic(t *testing.T) {
	req := RunRequest{Question: "q", URLs: []string{"http://a.test"}, MaxSources: 7, MaxLinksPerSource: 99, FollowLinks: true}
	first := Clamp(req)
	second := Clamp(req)
	if first.MaxSources != second.MaxSources || first.MaxLinksPerSource != second.MaxLinksPerSource {
		t.Fatalf("Clamp not deterministic: %+v vs %+v", first, second)
	}
}

func TestModelClamps(t *testing.T) {
	if got := ClampModelTokens(0); got != DefaultModelTokens {
		t.Fatalf("ClampModelTokens(0) = %d, want default %d", got, DefaultModelTokens)
	}
	if got := ClampModelTokens(10); got != MinModelTokens {
		t.Fatalf("ClampModelTokens(10) = %d, want %d", got, MinModelTokens)
	}
	if got := ClampModelTokens(5000); got != MaxModelTokens {
		t.Fatalf("ClampModelTokens(5000) = %d, want %d", got, MaxModelTokens)
	}
	if got := ClampModelRetries(9); got != MaxModelRetries {
		t.Fatalf("ClampModelRetries(9) = %d, want %d", got, MaxModelRetries)
	}
	if got := ClampModelRetries(-1); got != DefaultModelRetries {
		t.Fatalf("ClampModelRetries(-1) = %d, want %d", got, DefaultModelRetries)
	}
	if got := ClampPageChars(100); got != MinPageChars {
		t.Fatalf("ClampPageChars(100) = %d, want %d", got, MinPageChars)
	}
	if got := ClampPageChars(1 << 20); got != MaxPageChars {
		t.Fatalf("ClampPageChars(1<<20) = %d, want %d", got, MaxPageChars)
	}
}
