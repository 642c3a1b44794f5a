package refresh_test

import (
	"context"
	"testing"
	"time"

	"github.com/MrEthical07/rentAuth/refresh"
	"github.com/MrEthical07/rentAuth/refresh/refreshtest"
)

func TestMemoryStoreSuite(t *testing.T) {
	refreshtest.Run(t, func(t *testing.T, now func() time.Time) refresh.Store {
		return refresh.NewMemoryStore(now)
	})
}

func TestMemoryStoreSweepExpired(t *testing.T) {
	clock := refreshtest.NewClock()
	s := refresh.NewMemoryStore(clock.Now)

	short, err := refresh.NewToken(nil, "user-1", "", clock.Now(), time.Minute, "")
	if err != nil {
		t.Fatalf("NewToken error: %v", err)
	}
	long, err := refresh.NewToken(nil, "user-1", "", clock.Now(), time.Hour, "")
	if err != nil {
		t.Fatalf("NewToken error: %v", err)
	}
	for _, tok := range []refresh.Token{short, long} {
		if err := s.Create(context.Background(), tok); err != nil {
			t.Fatalf("Create error: %v", err)
		}
	}

	clock.Advance(2 * time.Minute)
	removed, err := s.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("SweepExpired error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := s.Get(context.Background(), short.ID); err == nil {
		t.Fatal("expected expired token to be gone")
	}
	if _, err := s.Get(context.Background(), long.ID); err != nil {
		t.Fatalf("expected long-lived token to remain: %v", err)
	}

	fams, err := s.RevokeSubject(context.Background(), "user-1", refresh.ReasonAdmin)
	if err != nil {
		t.Fatalf("RevokeSubject error: %v", err)
	}
	if len(fams) != 1 || fams[0] != long.FamilyID {
		t.Fatalf("expected only the surviving family, got %v", fams)
	}
}

func TestNewTokenStartsFamily(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	a, err := refresh.NewToken(nil, "user-1", "", now, time.Hour, "")
	if err != nil {
		t.Fatalf("NewToken error: %v", err)
	}
	b, err := refresh.NewToken(nil, "user-1", a.FamilyID, now, time.Hour, "")
	if err != nil {
		t.Fatalf("NewToken error: %v", err)
	}
	if a.FamilyID == "" || a.FamilyID != b.FamilyID || a.ID == b.ID {
		t.Fatalf("unexpected ids: %+v %+v", a, b)
	}
	if _, err := refresh.NewToken(nil, "", "", now, time.Hour, ""); err == nil {
		t.Fatal("expected error for empty subject")
	}
}
