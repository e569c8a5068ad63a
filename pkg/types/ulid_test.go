package types

import (
	"sort"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestULIDGenerator_MonotonicWithinMillisecond(t *testing.T) {
	g := NewULIDGenerator()
	ts := time.Date(2023, 4, 24, 12, 0, 0, 0, time.UTC)

	var ids []ULID
	for i := 0; i < 100; i++ {
		id, err := g.GenerateWithTime(ts)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ids = append(ids, id)
	}

	for i := 1; i < len(ids); i++ {
		if ids[i-1].Compare(ids[i]) >= 0 {
			t.Errorf("expected ULID[%d] < ULID[%d], got %s >= %s", i-1, i, ids[i-1], ids[i])
		}
	}
}

func TestULIDGenerator_ClockSkewStaysMonotonic(t *testing.T) {
	g := NewULIDGenerator()
	later := time.Date(2023, 4, 24, 12, 0, 1, 0, time.UTC)
	earlier := later.Add(-time.Second)

	a, err := g.GenerateWithTime(later)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := g.GenerateWithTime(earlier)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Compare(b) >= 0 {
		t.Errorf("expected %s < %s", a, b)
	}
}

func TestULID_Timestamp(t *testing.T) {
	ts := time.Date(2023, 4, 24, 10, 30, 0, 0, time.UTC)
	id, err := NewULIDGenerator().GenerateWithTime(ts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Timestamp() != uint64(ts.UnixMilli()) {
		t.Errorf("expected timestamp %d, got %d", ts.UnixMilli(), id.Timestamp())
	}
}

func TestULID_StringRoundTrip(t *testing.T) {
	id, err := NewULIDGenerator().Generate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := id.String()
	if len(s) != 26 {
		t.Fatalf("expected 26 characters, got %d", len(s))
	}
	parsed, err := ParseULID(s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed != id {
		t.Errorf("round trip mismatch: %s != %s", parsed, id)
	}
}

func TestParseULID_Invalid(t *testing.T) {
	if _, err := ParseULID("short"); err != ErrInvalidULIDLength {
		t.Errorf("expected ErrInvalidULIDLength, got %v", err)
	}
	if _, err := ParseULID("01234567890123456789012I45"); err != ErrInvalidULIDCharacter {
		t.Errorf("expected ErrInvalidULIDCharacter, got %v", err)
	}
	if _, err := ParseULID("81234567890123456789012345"); err != ErrInvalidULIDCharacter {
		t.Errorf("expected overflow to be rejected, got %v", err)
	}
}

func TestProperty_ULIDStringOrderMatchesGenerationOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("string order equals generation order", prop.ForAll(
		func(startMs int64, steps []int64) bool {
			g := NewULIDGenerator()
			ts := startMs
			var strs []string
			for _, step := range steps {
				ts += step
				id, err := g.GenerateWithTime(time.UnixMilli(ts))
				if err != nil {
					return false
				}
				strs = append(strs, id.String())
			}
			return sort.StringsAreSorted(strs)
		},
		gen.Int64Range(1000000000000, 2000000000000),
		gen.SliceOf(gen.Int64Range(0, 5)),
	))

	properties.TestingRun(t)
}
