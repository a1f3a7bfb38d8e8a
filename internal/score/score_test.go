package score

import (
	"math"
	"testing"
)

func TestApplyDelta(t *testing.T) {
	cases := []struct {
		name    string
		current uint64
		delta   int64
		want    uint64
	}{
		{name: "add", current: 100, delta: 50, want: 150},
		{name: "clamp to max", current: 9_990, delta: 100, want: 10_000},
		{name: "huge positive", current: 1, delta: math.MaxInt64, want: 10_000},
		{name: "subtract", current: 100, delta: -40, want: 60},
		{name: "clamp to zero", current: 100, delta: -101, want: 0},
		{name: "min int64", current: 10_000, delta: math.MinInt64, want: 0},
		{name: "exact zero", current: 100, delta: -100, want: 0},
		{name: "zero delta", current: 7, delta: 0, want: 7},
		{name: "above max input", current: 20_000, delta: 0, want: 10_000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ApplyDelta(tc.current, tc.delta, 10_000); got != tc.want {
				t.Fatalf("ApplyDelta(%d, %d) = %d, want %d", tc.current, tc.delta, got, tc.want)
			}
		})
	}
}

func TestDecay(t *testing.T) {
	p := DefaultParams()
	day := p.DecayInterval

	cases := []struct {
		name        string
		rec         Record
		now         uint64
		wantScore   uint64
		wantThrough uint64
		wantOK      bool
	}{
		{name: "too early", rec: Record{Score: 1_000, LastActivity: 100}, now: 100 + day - 1, wantScore: 1_000, wantThrough: 100, wantOK: false},
		{name: "one interval", rec: Record{Score: 1_000, LastActivity: 100}, now: 100 + day, wantScore: 950, wantThrough: 100 + day, wantOK: true},
		{name: "two intervals compound", rec: Record{Score: 1_000, LastActivity: 0}, now: 2*day + 5, wantScore: 903, wantThrough: 2 * day, wantOK: true},
		{name: "anchored on decayed through", rec: Record{Score: 950, LastActivity: 0, DecayedThrough: day}, now: day + 10, wantScore: 950, wantThrough: day, wantOK: false},
		{name: "minimum cut of one", rec: Record{Score: 10, LastActivity: 0}, now: day, wantScore: 9, wantThrough: day, wantOK: true},
		{name: "reaches zero", rec: Record{Score: 3, LastActivity: 0}, now: 10 * day, wantScore: 0, wantThrough: 10 * day, wantOK: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			score, through, ok := Decay(tc.rec, tc.now, p)
			if score != tc.wantScore || through != tc.wantThrough || ok != tc.wantOK {
				t.Fatalf("Decay = (%d, %d, %v), want (%d, %d, %v)", score, through, ok, tc.wantScore, tc.wantThrough, tc.wantOK)
			}
		})
	}
}

func TestParamsValidate(t *testing.T) {
	if err := DefaultParams().Validate(); err != nil {
		t.Fatalf("default params invalid: %v", err)
	}
	bad := []Params{
		{MaxScore: 0, DecayInterval: 1},
		{MaxScore: 1, DecayInterval: 0},
		{MaxScore: 1, DecayInterval: 1, DecayRateBPS: 10_001},
	}
	for _, p := range bad {
		if p.Validate() == nil {
			t.Fatalf("expected %+v to be rejected", p)
		}
	}
}
