package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/Michdriod/RCA-AI/internal/metrics"
)

const q1 = "Why did the database timeout?"

func TestRatioAndThreshold(t *testing.T) {
	t.Parallel()

	if r := Ratio(q1, q1); r != 1.0 {
		t.Fatalf("identical strings ratio = %v, want 1", r)
	}
	if r := Ratio("WHY did the database timeout?", q1); r != 1.0 {
		t.Fatalf("ratio should ignore case, got %v", r)
	}

	near := "Why did the database time out?"
	if r := Ratio(near, q1); r < DuplicateThreshold {
		t.Fatalf("expected near-identical ratio >= %v, got %v", DuplicateThreshold, r)
	}
	if !Detect(near, []string{q1}).Duplicate {
		t.Fatal("expected near-identical question to be flagged")
	}

	far := "Why was the connection pool exhausted during peak load?"
	res := Detect(far, []string{q1})
	if res.Duplicate || res.Ratio >= DuplicateThreshold {
		t.Fatalf("expected distinct question below threshold, got %+v", res)
	}
}

func TestDetectPicksBestMatch(t *testing.T) {
	t.Parallel()

	prior := []string{"What changed in the deploy?", q1}
	res := Detect(q1, prior)
	if !res.Duplicate || res.Match != q1 || res.Ratio != 1.0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if Detect(q1, nil).Duplicate {
		t.Fatal("no prior questions must never be a duplicate")
	}
}

type stubRegen struct {
	outputs []string
	errs    []error
	calls   int
	seen    []Penalty
}

func (s *stubRegen) Regenerate(_ context.Context, _ Request, p Penalty) (string, error) {
	i := s.calls
	s.calls++
	s.seen = append(s.seen, p)
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.outputs) {
		return s.outputs[i], nil
	}
	return s.outputs[len(s.outputs)-1], nil
}

func TestResolveAcceptsWithoutPrior(t *testing.T) {
	t.Parallel()

	counters := metrics.New()
	regen := &stubRegen{outputs: []string{"unused"}}
	c := NewController(regen, counters, nil)

	got, err := c.Resolve(context.Background(), Request{Candidate: q1})
	if err != nil || got != q1 {
		t.Fatalf("Resolve = %q, %v", got, err)
	}
	if regen.calls != 0 || counters.Snapshot().DedupRetriesTotal != 0 {
		t.Fatal("no regeneration expected")
	}
}

func TestResolveConvergesOnSecondAttempt(t *testing.T) {
	t.Parallel()

	distinct := "Why was the connection pool exhausted during peak load?"
	counters := metrics.New()
	regen := &stubRegen{outputs: []string{distinct}}
	c := NewController(regen, counters, nil)

	got, err := c.Resolve(context.Background(), Request{Candidate: q1, Prior: []string{q1}})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != distinct {
		t.Fatalf("Resolve = %q, want %q", got, distinct)
	}
	snap := counters.Snapshot()
	if snap.DedupRetriesTotal != 1 {
		t.Fatalf("DedupRetriesTotal = %d, want 1", snap.DedupRetriesTotal)
	}
	if snap.DedupDuplicatesAccepted != 0 {
		t.Fatalf("DedupDuplicatesAccepted = %d, want 0", snap.DedupDuplicatesAccepted)
	}
	if regen.seen[0].Match != q1 || regen.seen[0].Ratio != 1.0 {
		t.Fatalf("penalty should name the matched question, got %+v", regen.seen[0])
	}
}

func TestResolveExhaustsAndAcceptsDuplicate(t *testing.T) {
	t.Parallel()

	counters := metrics.New()
	regen := &stubRegen{outputs: []string{q1}}
	c := NewController(regen, counters, nil)

	got, err := c.Resolve(context.Background(), Request{Candidate: q1, Prior: []string{q1}})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != q1 {
		t.Fatalf("Resolve = %q, want the duplicate unchanged", got)
	}
	if regen.calls != DefaultMaxAttempts {
		t.Fatalf("regenerate calls = %d, want %d", regen.calls, DefaultMaxAttempts)
	}
	snap := counters.Snapshot()
	if snap.DedupRetriesTotal != 3 || snap.DedupDuplicatesAccepted != 1 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
}

func TestResolveAbortsOnRegenerationError(t *testing.T) {
	t.Parallel()

	counters := metrics.New()
	regen := &stubRegen{outputs: []string{q1, "never"}, errs: []error{nil, errors.New("upstream 500")}}
	c := NewController(regen, counters, nil)

	got, err := c.Resolve(context.Background(), Request{Candidate: q1, Prior: []string{q1}})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != q1 {
		t.Fatalf("Resolve = %q, want last candidate", got)
	}
	if regen.calls != 2 {
		t.Fatalf("regenerate calls = %d, want 2", regen.calls)
	}
	snap := counters.Snapshot()
	if snap.DedupRetriesTotal != 2 || snap.DedupDuplicatesAccepted != 0 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
}

func TestResolveCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	regen := RegeneratorFunc(func(ctx context.Context, _ Request, _ Penalty) (string, error) {
		return "", ctx.Err()
	})
	c := NewController(regen, metrics.New(), nil)

	if _, err := c.Resolve(ctx, Request{Candidate: q1, Prior: []string{q1}}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
