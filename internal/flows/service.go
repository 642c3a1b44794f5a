package flows

import "context"

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

func (s Service) Refresh(ctx context.Context, refreshToken string) RefreshResult {
	return RunRefresh(ctx, refreshToken, s.deps.Refresh)
}

func (s Service) Validate(ctx context.Context, token, audience string) ValidateResult {
	return RunValidate(ctx, token, audience, s.deps.Validate)
}

func (s Service) Logout(ctx context.Context, req LogoutRequest) LogoutResult {
	return RunLogout(ctx, req, s.deps.Logout)
}
