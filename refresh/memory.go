package refresh

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store for single-instance deployments and
// tests. A single mutex serializes all operations.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	tokens   map[string]*Token
	families map[string][]string
	subjects map[string]map[string]struct{}
}

// NewMemoryStore returns an empty MemoryStore. A nil now uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:      now,
		tokens:   make(map[string]*Token),
		families: make(map[string][]string),
		subjects: make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) Create(_ context.Context, t Token) error {
	if err := validateToken(t); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[t.ID]; exists {
		return ErrDuplicate
	}
	s.insertLocked(t)
	return nil
}

func (s *MemoryStore) insertLocked(t Token) {
	rec := t
	s.tokens[t.ID] = &rec
	s.families[t.FamilyID] = append(s.families[t.FamilyID], t.ID)
	fams, ok := s.subjects[t.SubjectID]
	if !ok {
		fams = make(map[string]struct{})
		s.subjects[t.SubjectID] = fams
	}
	fams[t.FamilyID] = struct{}{}
}

func (s *MemoryStore) Rotate(_ context.Context, presentedID string, next Successor) (RotateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.tokens[presentedID]
	if !ok {
		return RotateResult{}, ErrNotFound
	}
	prev := *cur

	if cur.Revoked {
		if cur.RevokedReason.Spent() {
			s.revokeFamilyLocked(cur.FamilyID, ReasonReuseDetected)
			return RotateResult{Previous: prev}, ErrReuseDetected
		}
		s.revokeFamilyLocked(cur.FamilyID, cur.RevokedReason)
		return RotateResult{Previous: prev}, ErrRevoked
	}
	if !s.now().Before(cur.ExpiresAt) {
		return RotateResult{Previous: prev}, ErrExpired
	}
	if _, exists := s.tokens[next.ID]; exists {
		return RotateResult{}, ErrDuplicate
	}

	cur.Revoked = true
	cur.RevokedReason = ReasonRotated

	successor := Token{
		ID:          next.ID,
		SubjectID:   cur.SubjectID,
		FamilyID:    cur.FamilyID,
		IssuedAt:    next.IssuedAt,
		ExpiresAt:   next.ExpiresAt,
		RotatedFrom: cur.ID,
		DeviceInfo:  next.DeviceInfo,
	}
	s.insertLocked(successor)

	return RotateResult{Previous: prev, Next: &successor}, nil
}

func (s *MemoryStore) revokeFamilyLocked(familyID string, reason Reason) int {
	n := 0
	for _, id := range s.families[familyID] {
		t, ok := s.tokens[id]
		if !ok || t.Revoked {
			continue
		}
		t.Revoked = true
		t.RevokedReason = reason
		n++
	}
	return n
}

func (s *MemoryStore) RevokeFamily(_ context.Context, familyID string, reason Reason) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revokeFamilyLocked(familyID, reason), nil
}

func (s *MemoryStore) RevokeSubject(_ context.Context, subjectID string, reason Reason) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var revoked []string
	for fam := range s.subjects[subjectID] {
		if s.revokeFamilyLocked(fam, reason) > 0 {
			revoked = append(revoked, fam)
		}
	}
	return revoked, nil
}

func (s *MemoryStore) IsActive(_ context.Context, tokenID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[tokenID]
	return ok && t.Active(s.now()), nil
}

func (s *MemoryStore) Get(_ context.Context, tokenID string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[tokenID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *t
	return &out, nil
}

// SweepExpired drops records past their expiry. Revoked records are kept
// until then so replays are still recognized.
func (s *MemoryStore) SweepExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, t := range s.tokens {
		if now.Before(t.ExpiresAt) {
			continue
		}
		delete(s.tokens, id)
		removed++
	}
	if removed == 0 {
		return 0, nil
	}

	for fam, ids := range s.families {
		kept := ids[:0]
		for _, id := range ids {
			if _, ok := s.tokens[id]; ok {
				kept = append(kept, id)
			}
		}
		if len(kept) == 0 {
			delete(s.families, fam)
			continue
		}
		s.families[fam] = kept
	}
	for sub, fams := range s.subjects {
		for fam := range fams {
			if _, ok := s.families[fam]; !ok {
				delete(fams, fam)
			}
		}
		if len(fams) == 0 {
			delete(s.subjects, sub)
		}
	}
	return removed, nil
}
