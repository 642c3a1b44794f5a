// Package refreshtest holds the behavioural suite every refresh.Store
// implementation must pass.
package refreshtest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/rentAuth/refresh"
)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock starting at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Unix(1_700_000_000, 0)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Factory builds an empty store bound to now.
type Factory func(t *testing.T, now func() time.Time) refresh.Store

const ttl = 24 * time.Hour

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	cases := []struct {
		name string
		fn   func(*testing.T, refresh.Store, *Clock)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"CreateDuplicate", testCreateDuplicate},
		{"RotateSuccess", testRotateSuccess},
		{"RotateTwiceIsReuse", testRotateTwiceIsReuse},
		{"RotateUnknown", testRotateUnknown},
		{"RotateExpired", testRotateExpired},
		{"RotateAfterLogout", testRotateAfterLogout},
		{"RevokeFamily", testRevokeFamily},
		{"RevokeSubject", testRevokeSubject},
		{"ConcurrentRotateSingleWinner", testConcurrentRotate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clock := NewClock()
			tc.fn(t, newStore(t, clock.Now), clock)
		})
	}
}

func seed(t *testing.T, s refresh.Store, clock *Clock, subject, family string) refresh.Token {
	t.Helper()
	tok, err := refresh.NewToken(nil, subject, family, clock.Now(), ttl, "test-device")
	if err != nil {
		t.Fatalf("NewToken error: %v", err)
	}
	if err := s.Create(context.Background(), tok); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	return tok
}

func successor(t *testing.T, clock *Clock) refresh.Successor {
	t.Helper()
	next, err := refresh.NewSuccessor(nil, clock.Now(), ttl, "test-device")
	if err != nil {
		t.Fatalf("NewSuccessor error: %v", err)
	}
	return next
}

func mustActive(t *testing.T, s refresh.Store, id string, want bool) {
	t.Helper()
	active, err := s.IsActive(context.Background(), id)
	if err != nil {
		t.Fatalf("IsActive(%s) error: %v", id, err)
	}
	if active != want {
		t.Fatalf("IsActive(%s) = %v, want %v", id, active, want)
	}
}

func testCreateAndGet(t *testing.T, s refresh.Store, clock *Clock) {
	tok := seed(t, s, clock, "user-1", "")

	got, err := s.Get(context.Background(), tok.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.SubjectID != "user-1" || got.FamilyID != tok.FamilyID || got.Revoked {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.DeviceInfo != "test-device" {
		t.Fatalf("device info lost: %+v", got)
	}
	mustActive(t, s, tok.ID, true)
	mustActive(t, s, "missing", false)

	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, refresh.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testCreateDuplicate(t *testing.T, s refresh.Store, clock *Clock) {
	tok := seed(t, s, clock, "user-1", "")
	if err := s.Create(context.Background(), tok); !errors.Is(err, refresh.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func testRotateSuccess(t *testing.T, s refresh.Store, clock *Clock) {
	tok := seed(t, s, clock, "user-1", "")
	clock.Advance(time.Minute)

	res, err := s.Rotate(context.Background(), tok.ID, successor(t, clock))
	if err != nil {
		t.Fatalf("Rotate error: %v", err)
	}
	if res.Next == nil {
		t.Fatal("expected successor")
	}
	if res.Next.FamilyID != tok.FamilyID || res.Next.SubjectID != "user-1" || res.Next.RotatedFrom != tok.ID {
		t.Fatalf("successor lineage wrong: %+v", res.Next)
	}

	mustActive(t, s, tok.ID, false)
	mustActive(t, s, res.Next.ID, true)

	prev, err := s.Get(context.Background(), tok.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !prev.Revoked || prev.RevokedReason != refresh.ReasonRotated {
		t.Fatalf("expected predecessor revoked as rotated: %+v", prev)
	}
}

func testRotateTwiceIsReuse(t *testing.T, s refresh.Store, clock *Clock) {
	tok := seed(t, s, clock, "user-1", "")

	res, err := s.Rotate(context.Background(), tok.ID, successor(t, clock))
	if err != nil {
		t.Fatalf("first Rotate error: %v", err)
	}

	replay, err := s.Rotate(context.Background(), tok.ID, successor(t, clock))
	if !errors.Is(err, refresh.ErrReuseDetected) {
		t.Fatalf("expected ErrReuseDetected, got %v", err)
	}
	if replay.Previous.FamilyID != tok.FamilyID || replay.Previous.SubjectID != "user-1" {
		t.Fatalf("reuse result missing lineage: %+v", replay.Previous)
	}

	mustActive(t, s, tok.ID, false)
	mustActive(t, s, res.Next.ID, false)

	burned, err := s.Get(context.Background(), res.Next.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if burned.RevokedReason != refresh.ReasonReuseDetected {
		t.Fatalf("expected reuse_detected reason, got %q", burned.RevokedReason)
	}

	if _, err := s.Rotate(context.Background(), res.Next.ID, successor(t, clock)); !errors.Is(err, refresh.ErrReuseDetected) {
		t.Fatalf("expected burned successor to report reuse, got %v", err)
	}
}

func testRotateUnknown(t *testing.T, s refresh.Store, clock *Clock) {
	if _, err := s.Rotate(context.Background(), "missing", successor(t, clock)); !errors.Is(err, refresh.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testRotateExpired(t *testing.T, s refresh.Store, clock *Clock) {
	tok := seed(t, s, clock, "user-1", "")
	clock.Advance(ttl + time.Second)

	if _, err := s.Rotate(context.Background(), tok.ID, successor(t, clock)); !errors.Is(err, refresh.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	mustActive(t, s, tok.ID, false)
}

func testRotateAfterLogout(t *testing.T, s refresh.Store, clock *Clock) {
	tok := seed(t, s, clock, "user-1", "")
	if _, err := s.RevokeFamily(context.Background(), tok.FamilyID, refresh.ReasonLogout); err != nil {
		t.Fatalf("RevokeFamily error: %v", err)
	}

	_, err := s.Rotate(context.Background(), tok.ID, successor(t, clock))
	if !errors.Is(err, refresh.ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
}

func testRevokeFamily(t *testing.T, s refresh.Store, clock *Clock) {
	tok := seed(t, s, clock, "user-1", "")
	other := seed(t, s, clock, "user-1", "")

	res, err := s.Rotate(context.Background(), tok.ID, successor(t, clock))
	if err != nil {
		t.Fatalf("Rotate error: %v", err)
	}

	n, err := s.RevokeFamily(context.Background(), tok.FamilyID, refresh.ReasonLogout)
	if err != nil {
		t.Fatalf("RevokeFamily error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one active member revoked, got %d", n)
	}
	mustActive(t, s, res.Next.ID, false)
	mustActive(t, s, other.ID, true)

	n, err = s.RevokeFamily(context.Background(), tok.FamilyID, refresh.ReasonLogout)
	if err != nil || n != 0 {
		t.Fatalf("second RevokeFamily = %d, %v", n, err)
	}
}

func testRevokeSubject(t *testing.T, s refresh.Store, clock *Clock) {
	a := seed(t, s, clock, "user-1", "")
	b := seed(t, s, clock, "user-1", "")
	c := seed(t, s, clock, "user-1", "")
	keep := seed(t, s, clock, "user-2", "")

	if _, err := s.RevokeFamily(context.Background(), c.FamilyID, refresh.ReasonLogout); err != nil {
		t.Fatalf("RevokeFamily error: %v", err)
	}

	fams, err := s.RevokeSubject(context.Background(), "user-1", refresh.ReasonPasswordChange)
	if err != nil {
		t.Fatalf("RevokeSubject error: %v", err)
	}
	if len(fams) != 2 {
		t.Fatalf("expected two families revoked, got %v", fams)
	}
	got := map[string]bool{}
	for _, f := range fams {
		got[f] = true
	}
	if !got[a.FamilyID] || !got[b.FamilyID] {
		t.Fatalf("unexpected families %v", fams)
	}

	mustActive(t, s, a.ID, false)
	mustActive(t, s, b.ID, false)
	mustActive(t, s, keep.ID, true)

	none, err := s.RevokeSubject(context.Background(), "nobody", refresh.ReasonAdmin)
	if err != nil || len(none) != 0 {
		t.Fatalf("RevokeSubject(nobody) = %v, %v", none, err)
	}
}

func testConcurrentRotate(t *testing.T, s refresh.Store, clock *Clock) {
	tok := seed(t, s, clock, "user-1", "")

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes []*refresh.Token
		failures  []error
	)

	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		next := successor(t, clock)
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := s.Rotate(context.Background(), tok.ID, next)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			successes = append(successes, res.Next)
		}()
	}
	close(start)
	wg.Wait()

	if len(successes) != 1 {
		t.Fatalf("expected exactly one successful rotation, got %d", len(successes))
	}
	for _, err := range failures {
		if !errors.Is(err, refresh.ErrReuseDetected) {
			t.Fatalf("losing rotation reported %v", err)
		}
	}
	mustActive(t, s, successes[0].ID, false)
}
