package services

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/loanapp/internal/common"
	"github.com/dmitrijs2005/loanapp/internal/server/auth"
	"github.com/dmitrijs2005/loanapp/internal/server/models"
	"github.com/dmitrijs2005/loanapp/internal/server/validation"
)

// Authenticate resolves a bearer access token to its claims and user.
//
// Errors: ErrUnauthenticated for a missing, malformed, revoked or orphaned
// token; ErrTokenExpired for an expired one; ErrForbidden for a user whose
// status is not active.
func (s *UserService) Authenticate(ctx context.Context, token string) (*auth.Claims, *models.User, error) {
	if token == "" {
		return nil, nil, common.ErrUnauthenticated
	}

	claims, err := s.issuer.VerifyAccess(token)
	if err != nil {
		if errors.Is(err, common.ErrTokenExpired) {
			return nil, nil, common.ErrTokenExpired
		}
		return nil, nil, common.ErrUnauthenticated
	}

	revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, nil, s.internal(ctx, "revocation lookup failed", err)
	}
	if revoked {
		return nil, nil, common.ErrUnauthenticated
	}

	id, err := claims.UserID()
	if err != nil {
		return nil, nil, common.ErrUnauthenticated
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, nil, common.ErrUnauthenticated
		}
		return nil, nil, s.internal(ctx, "user lookup failed", err, "user_id", id)
	}

	if !user.IsActive() {
		return nil, nil, common.ErrForbidden
	}

	return claims, user, nil
}

// RefreshToken exchanges a valid refresh token for a new access token. The
// refresh token itself is not rotated.
func (s *UserService) RefreshToken(ctx context.Context, refreshToken string) (string, error) {
	if err := validation.ValidateRefreshToken(refreshToken); err != nil {
		return "", err
	}

	claims, ok := s.issuer.VerifyRefresh(refreshToken)
	if !ok {
		return "", common.ErrInvalidToken
	}

	revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return "", s.internal(ctx, "revocation lookup failed", err)
	}
	if revoked {
		return "", common.ErrTokenRevoked
	}

	id, err := claims.UserID()
	if err != nil {
		return "", common.ErrInvalidToken
	}

	access, err := s.issuer.IssueAccess(id)
	if err != nil {
		return "", s.internal(ctx, "issue access token failed", err, "user_id", id)
	}
	return access, nil
}

// Logout revokes the access token behind access and, when refreshToken is
// a valid refresh token of the same user, that one too. An unusable
// refresh token is ignored.
func (s *UserService) Logout(ctx context.Context, access *auth.Claims, refreshToken string) error {
	now := s.now()

	if err := s.revoker.Revoke(ctx, access.ID, access.ExpiresIn(now)); err != nil {
		return s.internal(ctx, "revoke access token failed", err)
	}

	if refreshToken == "" {
		return nil
	}

	claims, ok := s.issuer.VerifyRefresh(refreshToken)
	if !ok || claims.Subject != access.Subject {
		s.logger.Debug(ctx, "logout ignored refresh token", "subject", access.Subject)
		return nil
	}

	if err := s.revoker.Revoke(ctx, claims.ID, claims.ExpiresIn(now)); err != nil {
		return s.internal(ctx, "revoke refresh token failed", err)
	}
	return nil
}
