package rentAuth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/rentAuth/password"
	"github.com/MrEthical07/rentAuth/refresh/refreshtest"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

type memIdentityStore struct {
	mu      sync.Mutex
	byID    map[string]Identity
	byEmail map[string]string

	findErr   error
	updateErr error
}

func newMemIdentityStore() *memIdentityStore {
	return &memIdentityStore{
		byID:    make(map[string]Identity),
		byEmail: make(map[string]string),
	}
}

func (s *memIdentityStore) FindByEmail(_ context.Context, email string) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	id, ok := s.byEmail[email]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	identity := s.byID[id]
	return &identity, nil
}

func (s *memIdentityStore) FindByID(_ context.Context, id string) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	identity, ok := s.byID[id]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return &identity, nil
}

func (s *memIdentityStore) Create(_ context.Context, identity Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[identity.Email]; ok {
		return ErrIdentityExists
	}
	s.byID[identity.ID] = identity
	s.byEmail[identity.Email] = identity.ID
	return nil
}

func (s *memIdentityStore) UpdatePasswordHash(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	identity, ok := s.byID[id]
	if !ok {
		return ErrIdentityNotFound
	}
	identity.PasswordHash = hash
	s.byID[id] = identity
	return nil
}

func (s *memIdentityStore) hashOf(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[id].PasswordHash
}

func (s *memIdentityStore) setFindErr(err error) {
	s.mu.Lock()
	s.findErr = err
	s.mu.Unlock()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.AccessSecret = []byte("access-secret-0123456789-abcdefghijklmnop")
	cfg.JWT.RefreshSecret = []byte("refresh-secret-0123456789-abcdefghijklmno")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.MaxConcurrentHashes = 4
	return cfg
}

type testEnv struct {
	engine *Engine
	store  *memIdentityStore
	clock  *refreshtest.Clock
}

func newTestEnv(t *testing.T, configure ...func(*Builder)) *testEnv {
	t.Helper()

	env := &testEnv{store: newMemIdentityStore(), clock: refreshtest.NewClock()}
	b := New().
		WithConfig(testConfig()).
		WithIdentityStore(env.store).
		WithClock(ClockFunc(env.clock.Now))
	for _, fn := range configure {
		fn(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

func withRedis(t *testing.T) func(*Builder) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return func(b *Builder) { b.WithRedis(client) }
}

func (env *testEnv) register(t *testing.T, email, secret string) *AuthResult {
	t.Helper()
	res, err := env.engine.Register(context.Background(), RegisterRequest{Email: email, Password: secret})
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return res
}

func (env *testEnv) login(t *testing.T, email, secret string) *AuthResult {
	t.Helper()
	res, err := env.engine.Login(context.Background(), LoginRequest{Email: email, Password: secret})
	if err != nil {
		t.Fatalf("Login(%s): %v", email, err)
	}
	return res
}

func wantKind(t *testing.T, err error, want ErrorKind) {
	t.Helper()
	if got := KindOf(err); got != want {
		t.Fatalf("expected %s, got %s (%v)", want, got, err)
	}
}

var backends = []struct {
	name  string
	setup func(*testing.T) []func(*Builder)
}{
	{"memory", func(*testing.T) []func(*Builder) { return nil }},
	{"redis", func(t *testing.T) []func(*Builder) { return []func(*Builder){withRedis(t)} }},
}

func TestRefreshReplayIsReuse(t *testing.T) {
	for _, be := range backends {
		t.Run(be.name, func(t *testing.T) {
			env := newTestEnv(t, be.setup(t)...)
			ctx := context.Background()

			env.register(t, "alice@example.com", "Str0ng!Pass")
			first := env.login(t, "alice@example.com", "Str0ng!Pass")

			next, err := env.engine.Refresh(ctx, first.Tokens.RefreshToken)
			if err != nil {
				t.Fatalf("Refresh: %v", err)
			}
			if next.RefreshToken == first.Tokens.RefreshToken || next.AccessToken == first.Tokens.AccessToken {
				t.Fatal("expected a new token pair")
			}

			_, err = env.engine.Refresh(ctx, first.Tokens.RefreshToken)
			wantKind(t, err, KindRefreshTokenReuseDetected)
			if !errors.Is(err, ErrRefreshTokenReuseDetected) {
				t.Fatalf("expected errors.Is match, got %v", err)
			}

			if got := env.engine.MetricsSnapshot().Counters[MetricRefreshReuseDetected]; got != 1 {
				t.Fatalf("reuse metric = %d, want 1", got)
			}

			// The burned family takes the successor and its access token with it.
			_, err = env.engine.Refresh(ctx, next.RefreshToken)
			if k := KindOf(err); k != KindRefreshTokenReuseDetected && k != KindTokenRevoked {
				t.Fatalf("successor of burned family: got %s", k)
			}
			_, err = env.engine.Authenticate(ctx, next.AccessToken)
			wantKind(t, err, KindTokenRevoked)
		})
	}
}

func TestLoginLockout(t *testing.T) {
	for _, be := range backends {
		t.Run(be.name, func(t *testing.T) {
			env := newTestEnv(t, be.setup(t)...)
			ctx := context.Background()
			env.register(t, "bob@example.com", "B0b!secret")

			for i := 1; i <= 5; i++ {
				env.clock.Advance(10 * time.Second)
				_, err := env.engine.Login(ctx, LoginRequest{Email: "bob@example.com", Password: "wrong"})
				wantKind(t, err, KindInvalidCredentials)
			}

			_, err := env.engine.Login(ctx, LoginRequest{Email: "bob@example.com", Password: "B0b!secret"})
			wantKind(t, err, KindAccountLocked)
			retry := RetryAfter(err)
			if retry < 14*time.Minute || retry > 15*time.Minute {
				t.Fatalf("retry after = %v, want about 15m", retry)
			}

			env.clock.Advance(15*time.Minute + time.Second)
			env.login(t, "bob@example.com", "B0b!secret")
		})
	}
}

func TestLockoutEngagingAttemptReportsInvalidCredentials(t *testing.T) {
	sink := NewChannelSink(16)
	env := newTestEnv(t, func(b *Builder) {
		cfg := testConfig()
		cfg.Lockout.Threshold = 2
		cfg.Audit.Enabled = true
		cfg.Audit.DropIfFull = false
		b.WithConfig(cfg).WithAuditSink(sink)
	})
	ctx := context.Background()
	env.register(t, "lena@example.com", "L3na!pass")

	for i := 0; i < 2; i++ {
		_, err := env.engine.Login(ctx, LoginRequest{Email: "lena@example.com", Password: "wrong"})
		wantKind(t, err, KindInvalidCredentials)
	}
	_, err := env.engine.Login(ctx, LoginRequest{Email: "lena@example.com", Password: "L3na!pass"})
	wantKind(t, err, KindAccountLocked)
	env.engine.Close()

	var failures []AuditEvent
	for len(sink.Events()) > 0 {
		if ev := <-sink.Events(); ev.EventType == AuditEventLoginFailure {
			failures = append(failures, ev)
		}
	}
	if len(failures) != 2 {
		t.Fatalf("got %d login failure events, want 2", len(failures))
	}
	if _, ok := failures[0].Metadata["locked_until"]; ok {
		t.Fatalf("first failure carries lock metadata: %+v", failures[0])
	}
	if failures[1].Metadata["locked_until"] == "" {
		t.Fatalf("engaging failure missing locked_until: %+v", failures[1])
	}
}

func TestLogoutAllDevices(t *testing.T) {
	for _, be := range backends {
		t.Run(be.name, func(t *testing.T) {
			env := newTestEnv(t, be.setup(t)...)
			ctx := context.Background()
			env.register(t, "carol@example.com", "Car0l!pass")
			phone := env.login(t, "carol@example.com", "Car0l!pass")
			laptop := env.login(t, "carol@example.com", "Car0l!pass")

			err := env.engine.Logout(ctx, LogoutRequest{
				AccessToken:  phone.Tokens.AccessToken,
				RefreshToken: phone.Tokens.RefreshToken,
				AllDevices:   true,
			})
			if err != nil {
				t.Fatalf("Logout: %v", err)
			}

			for _, pair := range []TokenPair{phone.Tokens, laptop.Tokens} {
				_, err := env.engine.Refresh(ctx, pair.RefreshToken)
				wantKind(t, err, KindTokenRevoked)
				_, err = env.engine.Authenticate(ctx, pair.AccessToken)
				wantKind(t, err, KindTokenRevoked)
			}
		})
	}
}

func TestLogoutSingleSessionKeepsOthers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "dave@example.com", "Dav3!pass")
	a := env.login(t, "dave@example.com", "Dav3!pass")
	b := env.login(t, "dave@example.com", "Dav3!pass")

	if err := env.engine.Logout(ctx, LogoutRequest{AccessToken: a.Tokens.AccessToken}); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	_, err := env.engine.Authenticate(ctx, a.Tokens.AccessToken)
	wantKind(t, err, KindTokenRevoked)
	_, err = env.engine.Refresh(ctx, a.Tokens.RefreshToken)
	wantKind(t, err, KindTokenRevoked)

	if _, err := env.engine.Authenticate(ctx, b.Tokens.AccessToken); err != nil {
		t.Fatalf("other session must survive: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, b.Tokens.RefreshToken); err != nil {
		t.Fatalf("other session refresh: %v", err)
	}
}

func TestLogoutAcceptsExpiredAccessToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.register(t, "erin@example.com", "Er1n!pass")

	env.clock.Advance(time.Hour)
	_, err := env.engine.Authenticate(ctx, res.Tokens.AccessToken)
	wantKind(t, err, KindTokenExpired)

	err = env.engine.Logout(ctx, LogoutRequest{AccessToken: res.Tokens.AccessToken, RefreshToken: res.Tokens.RefreshToken})
	if err != nil {
		t.Fatalf("Logout with expired access token: %v", err)
	}
	_, err = env.engine.Refresh(ctx, res.Tokens.RefreshToken)
	wantKind(t, err, KindTokenRevoked)
}

func TestLogoutRejectsForeignRefreshToken(t *testing.T) {
	env := newTestEnv(t)
	a := env.register(t, "frank@example.com", "Fr4nk!pass")
	b := env.register(t, "grace@example.com", "Gr4ce!pass")

	err := env.engine.Logout(context.Background(), LogoutRequest{
		AccessToken:  a.Tokens.AccessToken,
		RefreshToken: b.Tokens.RefreshToken,
	})
	wantKind(t, err, KindTokenMalformed)

	if _, err := env.engine.Refresh(context.Background(), b.Tokens.RefreshToken); err != nil {
		t.Fatalf("foreign session must be untouched: %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t, func(b *Builder) {
		cfg := testConfig()
		cfg.RegistrationRoles = []string{"agent"}
		b.WithConfig(cfg)
	})
	ctx := context.Background()

	tests := []struct {
		name string
		req  RegisterRequest
		want ErrorKind
	}{
		{"bad email", RegisterRequest{Email: "not-an-email", Password: "Str0ng!Pass"}, KindInvalidInput},
		{"display name email", RegisterRequest{Email: "Alice <a@example.com>", Password: "Str0ng!Pass"}, KindInvalidInput},
		{"weak password", RegisterRequest{Email: "h@example.com", Password: "short"}, KindPasswordPolicy},
		{"no symbol", RegisterRequest{Email: "h@example.com", Password: "Str0ngPass"}, KindPasswordPolicy},
		{"role not offered", RegisterRequest{Email: "h@example.com", Password: "Str0ng!Pass", Role: "admin"}, KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.engine.Register(ctx, tt.req)
			wantKind(t, err, tt.want)
		})
	}

	res, err := env.engine.Register(ctx, RegisterRequest{
		Email:    "  Heidi@Example.COM ",
		Password: "Str0ng!Pass",
		Role:     "agent",
		Profile:  map[string]string{"name": "Heidi"},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if res.Identity.Email != "heidi@example.com" || res.Identity.Role != "agent" {
		t.Fatalf("unexpected identity %+v", res.Identity)
	}
	if res.Identity.PasswordHash != "" {
		t.Fatal("result must not carry the password hash")
	}
	if !strings.HasPrefix(env.store.hashOf(res.Identity.ID), "$argon2id$") {
		t.Fatal("stored hash must be argon2id")
	}

	claims, err := env.engine.Authenticate(ctx, res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if claims.SubjectID != res.Identity.ID || claims.Role != "agent" || claims.FamilyID == "" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ivan@example.com", "Iv4n!pass")

	_, err := env.engine.Register(context.Background(), RegisterRequest{Email: "IVAN@example.com", Password: "Iv4n!pass2"})
	wantKind(t, err, KindAccountAlreadyExists)
	if got := env.engine.MetricsSnapshot().Counters[MetricRegisterDuplicate]; got != 1 {
		t.Fatalf("duplicate metric = %d", got)
	}
}

func TestLoginUnknownEmailIsInvalidCredentials(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Login(context.Background(), LoginRequest{Email: "nobody@example.com", Password: "Wh4tever!"})
	wantKind(t, err, KindInvalidCredentials)

	_, err = env.engine.Login(context.Background(), LoginRequest{Email: "", Password: "x"})
	wantKind(t, err, KindInvalidCredentials)
}

func TestLoginTrackIPLocksAcrossAccounts(t *testing.T) {
	env := newTestEnv(t, func(b *Builder) {
		cfg := testConfig()
		cfg.Lockout.TrackIP = true
		cfg.Lockout.Threshold = 3
		b.WithConfig(cfg)
	})
	env.register(t, "judy@example.com", "Jud7!pass")
	ctx := WithClientIP(context.Background(), "203.0.113.7")

	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		_, _ = env.engine.Login(ctx, LoginRequest{Email: email, Password: "nope"})
	}

	_, err := env.engine.Login(ctx, LoginRequest{Email: "judy@example.com", Password: "Jud7!pass"})
	wantKind(t, err, KindAccountLocked)

	// A different address is unaffected.
	other := WithClientIP(context.Background(), "198.51.100.1")
	if _, err := env.engine.Login(other, LoginRequest{Email: "judy@example.com", Password: "Jud7!pass"}); err != nil {
		t.Fatalf("Login from other ip: %v", err)
	}
}

func TestLoginUpgradesLegacyHash(t *testing.T) {
	env := newTestEnv(t)
	legacy, err := bcrypt.GenerateFromPassword([]byte("Leg4cy!pass"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.store.Create(context.Background(), Identity{
		ID:           "legacy-user",
		Email:        "legacy@example.com",
		PasswordHash: string(legacy),
		Role:         "customer",
	}); err != nil {
		t.Fatal(err)
	}

	env.login(t, "legacy@example.com", "Leg4cy!pass")
	if !strings.HasPrefix(env.store.hashOf("legacy-user"), "$argon2id$") {
		t.Fatal("expected hash to be upgraded to argon2id")
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricHashUpgraded]; got != 1 {
		t.Fatalf("upgrade metric = %d", got)
	}
	env.login(t, "legacy@example.com", "Leg4cy!pass")
}

func TestLoginCorruptHashIsUnavailable(t *testing.T) {
	env := newTestEnv(t)
	_ = env.store.Create(context.Background(), Identity{ID: "u1", Email: "broken@example.com", PasswordHash: "$argon2id$garbage", Role: "customer"})

	_, err := env.engine.Login(context.Background(), LoginRequest{Email: "broken@example.com", Password: "Any!pass1"})
	wantKind(t, err, KindServiceUnavailable)
	if !KindOf(err).Retryable() {
		t.Fatal("service unavailable must be retryable")
	}
}

func TestRefreshIdentityStoreDownKeepsToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.register(t, "kim@example.com", "K1m!pass")

	env.store.setFindErr(errors.New("connection refused"))
	_, err := env.engine.Refresh(ctx, res.Tokens.RefreshToken)
	wantKind(t, err, KindServiceUnavailable)

	env.store.setFindErr(nil)
	if _, err := env.engine.Refresh(ctx, res.Tokens.RefreshToken); err != nil {
		t.Fatalf("token must remain usable after a failed lookup: %v", err)
	}
}

func TestRefreshErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.register(t, "leo@example.com", "L3o!pass")

	_, err := env.engine.Refresh(ctx, "not-a-token")
	wantKind(t, err, KindTokenMalformed)

	// An access token is signed with the other secret.
	_, err = env.engine.Refresh(ctx, res.Tokens.AccessToken)
	wantKind(t, err, KindTokenMalformed)

	env.clock.Advance(8 * 24 * time.Hour)
	_, err = env.engine.Refresh(ctx, res.Tokens.RefreshToken)
	wantKind(t, err, KindTokenExpired)
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	res := env.register(t, "mia@example.com", "M1a!pass")

	const n = 8
	var (
		wg   sync.WaitGroup
		errs = make([]error, n)
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = env.engine.Refresh(context.Background(), res.Tokens.RefreshToken)
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case KindOf(err) != KindRefreshTokenReuseDetected:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one successful rotation, got %d", wins)
	}
}

func TestAuthenticateErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.register(t, "nina@example.com", "N1na!pass")

	_, err := env.engine.Authenticate(ctx, "x.y.z")
	wantKind(t, err, KindTokenMalformed)

	_, err = env.engine.Authenticate(ctx, res.Tokens.RefreshToken)
	wantKind(t, err, KindTokenMalformed)

	_, err = env.engine.AuthenticateAudience(ctx, res.Tokens.AccessToken, "billing-api")
	wantKind(t, err, KindTokenAudienceMismatch)

	if _, err := env.engine.AuthenticateAudience(ctx, res.Tokens.AccessToken, "rentauth-api"); err != nil {
		t.Fatalf("configured audience: %v", err)
	}

	env.clock.Advance(15*time.Minute + 6*time.Second)
	_, err = env.engine.Authenticate(ctx, res.Tokens.AccessToken)
	wantKind(t, err, KindTokenExpired)
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.register(t, "olga@example.com", "Olg4!pass")
	id := res.Identity.ID

	err := env.engine.ChangePassword(ctx, ChangePasswordRequest{SubjectID: id, CurrentPassword: "wrong", NewPassword: "N3w!secret"})
	wantKind(t, err, KindInvalidCredentials)

	err = env.engine.ChangePassword(ctx, ChangePasswordRequest{SubjectID: id, CurrentPassword: "Olg4!pass", NewPassword: "Olg4!pass"})
	wantKind(t, err, KindPasswordPolicy)

	err = env.engine.ChangePassword(ctx, ChangePasswordRequest{SubjectID: id, CurrentPassword: "Olg4!pass", NewPassword: "weak"})
	wantKind(t, err, KindPasswordPolicy)

	err = env.engine.ChangePassword(ctx, ChangePasswordRequest{SubjectID: "missing", CurrentPassword: "Olg4!pass", NewPassword: "N3w!secret"})
	wantKind(t, err, KindInvalidCredentials)

	if err := env.engine.ChangePassword(ctx, ChangePasswordRequest{SubjectID: id, CurrentPassword: "Olg4!pass", NewPassword: "N3w!secret"}); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	_, err = env.engine.Authenticate(ctx, res.Tokens.AccessToken)
	wantKind(t, err, KindTokenRevoked)
	_, err = env.engine.Refresh(ctx, res.Tokens.RefreshToken)
	wantKind(t, err, KindTokenRevoked)

	_, err = env.engine.Login(ctx, LoginRequest{Email: "olga@example.com", Password: "Olg4!pass"})
	wantKind(t, err, KindInvalidCredentials)
	env.login(t, "olga@example.com", "N3w!secret")
}

func TestResetPassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.register(t, "pete@example.com", "P3te!pass")

	generated, err := env.engine.ResetPassword(ctx, res.Identity.ID)
	if err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if len(generated) < minGeneratedPasswordLength {
		t.Fatalf("generated password too short: %d", len(generated))
	}

	_, err = env.engine.Refresh(ctx, res.Tokens.RefreshToken)
	wantKind(t, err, KindTokenRevoked)
	env.login(t, "pete@example.com", generated)

	_, err = env.engine.ResetPassword(ctx, "")
	wantKind(t, err, KindInvalidInput)
}

func TestDefaultPolicyGenerates(t *testing.T) {
	p := DefaultConfig().policy()
	if p.Symbols != password.DefaultSymbols {
		t.Fatalf("default Symbols = %q", p.Symbols)
	}
	secret, err := password.GenerateStrong(nil, minGeneratedPasswordLength, p)
	if err != nil {
		t.Fatalf("GenerateStrong: %v", err)
	}
	if err := p.Check(secret); err != nil {
		t.Fatalf("Check(%q): %v", secret, err)
	}
}

func TestResetPasswordEmptySymbolAlphabet(t *testing.T) {
	env := newTestEnv(t, func(b *Builder) {
		cfg := testConfig()
		cfg.Policy.Symbols = ""
		b.WithConfig(cfg)
	})
	res := env.register(t, "rosa@example.com", "R0sa!pass")

	generated, err := env.engine.ResetPassword(context.Background(), res.Identity.ID)
	if err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if !strings.ContainsAny(generated, password.DefaultSymbols) {
		t.Fatalf("generated password %q has no symbol", generated)
	}
	if err := env.engine.policy.Check(generated); err != nil {
		t.Fatalf("generated password fails policy: %v", err)
	}
	env.login(t, "rosa@example.com", generated)
}

func TestSessionActiveAndRevokeAll(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.register(t, "quinn@example.com", "Qu1nn!pass")

	active, err := env.engine.SessionActive(ctx, res.Tokens.RefreshToken)
	if err != nil || !active {
		t.Fatalf("SessionActive = %v, %v", active, err)
	}

	if err := env.engine.RevokeAllSessions(ctx, res.Identity.ID); err != nil {
		t.Fatalf("RevokeAllSessions: %v", err)
	}
	active, err = env.engine.SessionActive(ctx, res.Tokens.RefreshToken)
	if err != nil || active {
		t.Fatalf("SessionActive after revoke = %v, %v", active, err)
	}
	_, err = env.engine.Authenticate(ctx, res.Tokens.AccessToken)
	wantKind(t, err, KindTokenRevoked)

	env.clock.Advance(8 * 24 * time.Hour)
	active, err = env.engine.SessionActive(ctx, res.Tokens.RefreshToken)
	if err != nil || active {
		t.Fatalf("expired session = %v, %v", active, err)
	}
}

func TestAuditEvents(t *testing.T) {
	sink := NewChannelSink(64)
	env := newTestEnv(t, func(b *Builder) {
		cfg := testConfig()
		cfg.Audit.Enabled = true
		cfg.Audit.DropIfFull = false
		b.WithConfig(cfg).WithAuditSink(sink)
	})
	ctx := WithUserAgent(WithClientIP(context.Background(), "192.0.2.10"), "rental-app/1.0")

	res, err := env.engine.Register(ctx, RegisterRequest{Email: "rita@example.com", Password: "R1ta!pass"})
	if err != nil {
		t.Fatal(err)
	}
	_, _ = env.engine.Login(ctx, LoginRequest{Email: "rita@example.com", Password: "bad"})
	if _, err := env.engine.Refresh(ctx, res.Tokens.RefreshToken); err != nil {
		t.Fatal(err)
	}
	_, _ = env.engine.Refresh(ctx, res.Tokens.RefreshToken)
	env.engine.Close()

	var got []AuditEvent
	for len(sink.Events()) > 0 {
		got = append(got, <-sink.Events())
	}

	want := []string{AuditEventRegisterSuccess, AuditEventLoginFailure, AuditEventRefreshSuccess, AuditEventRefreshReuseDetected}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(got), len(want), got)
	}
	for i, ev := range got {
		if ev.EventType != want[i] {
			t.Fatalf("event %d = %s, want %s", i, ev.EventType, want[i])
		}
		if ev.IP != "192.0.2.10" || ev.UserAgent != "rental-app/1.0" {
			t.Fatalf("event %d missing request metadata: %+v", i, ev)
		}
	}
	if got[1].Success || got[1].Error != KindInvalidCredentials.String() {
		t.Fatalf("login failure event = %+v", got[1])
	}
	if got[3].FamilyID == "" || got[3].SubjectID != res.Identity.ID {
		t.Fatalf("reuse event = %+v", got[3])
	}
}

type deadlineAuditSink struct {
	deadlines chan bool
}

func (s *deadlineAuditSink) Emit(ctx context.Context, _ AuditEvent) {
	_, ok := ctx.Deadline()
	s.deadlines <- ok
}

func TestAuditDeliveryTimeout(t *testing.T) {
	sink := &deadlineAuditSink{deadlines: make(chan bool, 8)}
	env := newTestEnv(t, func(b *Builder) {
		cfg := testConfig()
		cfg.Audit.Enabled = true
		cfg.Audit.DeliveryTimeout = time.Second
		b.WithConfig(cfg).WithAuditSink(sink)
	})
	env.register(t, "sven@example.com", "Sv3n!pass")
	env.engine.Close()

	if !<-sink.deadlines {
		t.Fatal("audit sink called without a delivery deadline")
	}

	cfg := testConfig()
	cfg.Audit.DeliveryTimeout = -time.Second
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("negative delivery timeout: %v", err)
	}
}

func TestBuilderValidation(t *testing.T) {
	_, err := New().WithConfig(testConfig()).Build()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("missing identity store: %v", err)
	}

	cfg := testConfig()
	cfg.JWT.RefreshSecret = cfg.JWT.AccessSecret
	_, err = New().WithConfig(cfg).WithIdentityStore(newMemIdentityStore()).Build()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("shared secrets: %v", err)
	}

	b := New().WithConfig(testConfig()).WithIdentityStore(newMemIdentityStore())
	e, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	if _, err := b.Build(); !errors.Is(err, ErrBuilderUsed) {
		t.Fatalf("second Build: %v", err)
	}
	if len(e.Sweepables()) != 3 {
		t.Fatalf("memory engine sweepables = %d, want 3", len(e.Sweepables()))
	}
}
