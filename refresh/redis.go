package refresh

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rotateStatusNotFound  int64 = 0
	rotateStatusExpired   int64 = 1
	rotateStatusReuse     int64 = 2
	rotateStatusRotated   int64 = 3
	rotateStatusCorrupt   int64 = 4
	rotateStatusRevoked   int64 = 5
	rotateStatusDuplicate int64 = 6
)

// Records live in three key spaces:
//
//	{<prefix>}:t:<token id>    hash  sub fam iat exp from rev reason dev
//	{<prefix>}:f:<family id>   set   token ids
//	{<prefix>}:s:<subject id>  set   family ids
//
// iat and exp are unix milliseconds. Every key expires with the newest
// token it covers. The {<prefix>} hash tag keeps the whole store in one
// cluster slot: scripts declare the keys they can name up front and derive
// family members from the same tag.
const luaHelpers = `
local function extend(key, ttl)
  local cur = redis.call("PTTL", key)
  if cur < ttl then
    redis.call("PEXPIRE", key, ttl)
  end
end

local function ttl_for(exp, now)
  local ttl = tonumber(exp) - now
  if ttl < 1 then
    ttl = 1
  end
  return ttl
end

local function revoke_family(base, famKey, reason)
  local n = 0
  local ids = redis.call("SMEMBERS", famKey)
  for _, id in ipairs(ids) do
    local k = base .. ":t:" .. id
    if redis.call("HGET", k, "rev") == "0" then
      redis.call("HSET", k, "rev", "1", "reason", reason)
      n = n + 1
    end
  end
  return n
end
`

const createTokenScript = luaHelpers + `
local now = tonumber(ARGV[8])
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1],
  "sub", ARGV[2], "fam", ARGV[3], "iat", ARGV[4], "exp", ARGV[5],
  "from", ARGV[6], "rev", "0", "reason", "", "dev", ARGV[7])
local ttl = ttl_for(ARGV[5], now)
redis.call("PEXPIRE", KEYS[1], ttl)
redis.call("SADD", KEYS[2], ARGV[1])
redis.call("SADD", KEYS[3], ARGV[3])
extend(KEYS[2], ttl)
extend(KEYS[3], ttl)
return 1
`

const rotateTokenScript = luaHelpers + `
local base = ARGV[1]
local now = tonumber(ARGV[2])
local raw = redis.call("HGETALL", KEYS[1])
if #raw == 0 then
  return {0}
end
local rec = {}
for i = 1, #raw, 2 do
  rec[raw[i]] = raw[i + 1]
end
if not rec["sub"] or not rec["fam"] or not tonumber(rec["exp"] or "") then
  return {4}
end

local out = {0, rec["sub"], rec["fam"], rec["iat"] or "0", rec["exp"],
  rec["from"] or "", rec["rev"] or "0", rec["reason"] or "", rec["dev"] or ""}

if rec["rev"] == "1" then
  if rec["reason"] == "rotated" or rec["reason"] == "reuse_detected" then
    revoke_family(base, base .. ":f:" .. rec["fam"], "reuse_detected")
    out[1] = 2
  else
    revoke_family(base, base .. ":f:" .. rec["fam"], rec["reason"])
    out[1] = 5
  end
  return out
end

if tonumber(rec["exp"]) <= now then
  out[1] = 1
  return out
end

local nextKey = KEYS[2]
if redis.call("EXISTS", nextKey) == 1 then
  return {6}
end

redis.call("HSET", KEYS[1], "rev", "1", "reason", "rotated")
redis.call("HSET", nextKey,
  "sub", rec["sub"], "fam", rec["fam"], "iat", ARGV[4], "exp", ARGV[5],
  "from", ARGV[7], "rev", "0", "reason", "", "dev", ARGV[6])
local ttl = ttl_for(ARGV[5], now)
redis.call("PEXPIRE", nextKey, ttl)
local famKey = base .. ":f:" .. rec["fam"]
redis.call("SADD", famKey, ARGV[3])
extend(famKey, ttl)
local subKey = base .. ":s:" .. rec["sub"]
redis.call("SADD", subKey, rec["fam"])
extend(subKey, ttl)
out[1] = 3
return out
`

const revokeFamilyScript = luaHelpers + `
return revoke_family(ARGV[1], KEYS[1], ARGV[2])
`

const revokeSubjectScript = luaHelpers + `
local out = {}
local fams = redis.call("SMEMBERS", KEYS[1])
for _, fam in ipairs(fams) do
  if revoke_family(ARGV[1], ARGV[1] .. ":f:" .. fam, ARGV[2]) > 0 then
    table.insert(out, fam)
  end
end
return out
`

var (
	createTokenLua   = redis.NewScript(createTokenScript)
	rotateTokenLua   = redis.NewScript(rotateTokenScript)
	revokeFamilyLua  = redis.NewScript(revokeFamilyScript)
	revokeSubjectLua = redis.NewScript(revokeSubjectScript)
)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	// Prefix namespaces every key and becomes its hash tag. Defaults to "rt".
	Prefix string
	// Now defaults to time.Now.
	Now func() time.Time
}

// RedisStore is a Store shared across instances. Rotation, creation and
// revocation each run as a single Lua script, on a standalone server or a
// cluster.
type RedisStore struct {
	redis redis.UniversalClient
	base  string
	now   func() time.Time
}

// NewRedisStore returns a RedisStore using client.
func NewRedisStore(client redis.UniversalClient, cfg RedisConfig) *RedisStore {
	if cfg.Prefix == "" {
		cfg.Prefix = "rt"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &RedisStore{redis: client, base: "{" + cfg.Prefix + "}", now: cfg.Now}
}

func (s *RedisStore) tokenKey(id string) string   { return s.base + ":t:" + id }
func (s *RedisStore) familyKey(id string) string  { return s.base + ":f:" + id }
func (s *RedisStore) subjectKey(id string) string { return s.base + ":s:" + id }

func (s *RedisStore) Create(ctx context.Context, t Token) error {
	if err := validateToken(t); err != nil {
		return err
	}

	created, err := createTokenLua.Run(
		ctx,
		s.redis,
		[]string{s.tokenKey(t.ID), s.familyKey(t.FamilyID), s.subjectKey(t.SubjectID)},
		t.ID,
		t.SubjectID,
		t.FamilyID,
		t.IssuedAt.UnixMilli(),
		t.ExpiresAt.UnixMilli(),
		t.RotatedFrom,
		t.DeviceInfo,
		s.now().UnixMilli(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if created == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *RedisStore) Rotate(ctx context.Context, presentedID string, next Successor) (RotateResult, error) {
	parts, err := rotateTokenLua.Run(
		ctx,
		s.redis,
		[]string{s.tokenKey(presentedID), s.tokenKey(next.ID)},
		s.base,
		s.now().UnixMilli(),
		next.ID,
		next.IssuedAt.UnixMilli(),
		next.ExpiresAt.UnixMilli(),
		next.DeviceInfo,
		presentedID,
	).Slice()
	if err != nil {
		return RotateResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(parts) == 0 {
		return RotateResult{}, fmt.Errorf("%w: empty rotate response", ErrUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return RotateResult{}, fmt.Errorf("%w: invalid rotate status", ErrUnavailable)
	}

	switch code {
	case rotateStatusNotFound:
		return RotateResult{}, ErrNotFound
	case rotateStatusCorrupt:
		return RotateResult{}, ErrCorrupt
	case rotateStatusDuplicate:
		return RotateResult{}, ErrDuplicate
	}

	prev, err := decodeRotateRecord(presentedID, parts)
	if err != nil {
		return RotateResult{}, err
	}

	switch code {
	case rotateStatusReuse:
		return RotateResult{Previous: prev}, ErrReuseDetected
	case rotateStatusRevoked:
		return RotateResult{Previous: prev}, ErrRevoked
	case rotateStatusExpired:
		return RotateResult{Previous: prev}, ErrExpired
	case rotateStatusRotated:
		successor := &Token{
			ID:          next.ID,
			SubjectID:   prev.SubjectID,
			FamilyID:    prev.FamilyID,
			IssuedAt:    time.UnixMilli(next.IssuedAt.UnixMilli()),
			ExpiresAt:   time.UnixMilli(next.ExpiresAt.UnixMilli()),
			RotatedFrom: presentedID,
			DeviceInfo:  next.DeviceInfo,
		}
		prev.Revoked = true
		prev.RevokedReason = ReasonRotated
		return RotateResult{Previous: prev, Next: successor}, nil
	default:
		return RotateResult{}, fmt.Errorf("%w: unknown rotate status %d", ErrUnavailable, code)
	}
}

// decodeRotateRecord reads {status, sub, fam, iat, exp, from, rev, reason, dev}.
func decodeRotateRecord(id string, parts []interface{}) (Token, error) {
	if len(parts) < 9 {
		return Token{}, ErrCorrupt
	}
	fields := make([]string, 8)
	for i := range fields {
		v, ok := parts[i+1].(string)
		if !ok {
			return Token{}, ErrCorrupt
		}
		fields[i] = v
	}
	return decodeFields(id, map[string]string{
		"sub": fields[0], "fam": fields[1], "iat": fields[2], "exp": fields[3],
		"from": fields[4], "rev": fields[5], "reason": fields[6], "dev": fields[7],
	})
}

func decodeFields(id string, f map[string]string) (Token, error) {
	iat, err := strconv.ParseInt(f["iat"], 10, 64)
	if err != nil {
		return Token{}, fmt.Errorf("%w: iat: %v", ErrCorrupt, err)
	}
	exp, err := strconv.ParseInt(f["exp"], 10, 64)
	if err != nil {
		return Token{}, fmt.Errorf("%w: exp: %v", ErrCorrupt, err)
	}
	if f["sub"] == "" || f["fam"] == "" {
		return Token{}, fmt.Errorf("%w: missing subject or family", ErrCorrupt)
	}
	return Token{
		ID:            id,
		SubjectID:     f["sub"],
		FamilyID:      f["fam"],
		IssuedAt:      time.UnixMilli(iat),
		ExpiresAt:     time.UnixMilli(exp),
		RotatedFrom:   f["from"],
		Revoked:       f["rev"] == "1",
		RevokedReason: Reason(f["reason"]),
		DeviceInfo:    f["dev"],
	}, nil
}

func (s *RedisStore) RevokeFamily(ctx context.Context, familyID string, reason Reason) (int, error) {
	n, err := revokeFamilyLua.Run(ctx, s.redis, []string{s.familyKey(familyID)}, s.base, string(reason)).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(n), nil
}

func (s *RedisStore) RevokeSubject(ctx context.Context, subjectID string, reason Reason) ([]string, error) {
	fams, err := revokeSubjectLua.Run(ctx, s.redis, []string{s.subjectKey(subjectID)}, s.base, string(reason)).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return fams, nil
}

func (s *RedisStore) IsActive(ctx context.Context, tokenID string) (bool, error) {
	t, err := s.Get(ctx, tokenID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return t.Active(s.now()), nil
}

func (s *RedisStore) Get(ctx context.Context, tokenID string) (*Token, error) {
	fields, err := s.redis.HGetAll(ctx, s.tokenKey(tokenID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	t, err := decodeFields(tokenID, fields)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
