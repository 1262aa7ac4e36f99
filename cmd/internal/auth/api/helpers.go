package authapi

import "folio/cmd/internal/auth/session"

func toUserResponse(p session.Pair) userResponse {
	return userResponse{
		ID:    p.SubjectID,
		Email: p.Email,
		Role:  p.Role,
	}
}

func toSessionResponse(p session.Pair) sessionResponse {
	return sessionResponse{
		TokenType:        "Bearer",
		AccessToken:      p.AccessToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshToken:     p.RefreshToken,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}
