package jwttoken

import (
	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
	dErrors "github.com/vishalp-65/patient-case-notes-system/pkg/domain-errors"
)

// ValidateActor satisfies auth.ActorValidator.
func (s *JWTService) ValidateActor(tokenString string) (id.UserID, id.Role, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return id.UserID{}, "", err
	}
	userID, err := id.ParseUserID(claims.UserID)
	if err != nil {
		return id.UserID{}, "", dErrors.New(dErrors.CodeUnauthorized, "invalid token subject")
	}
	role, err := id.ParseRole(claims.Role)
	if err != nil {
		return id.UserID{}, "", dErrors.New(dErrors.CodeUnauthorized, "invalid token role")
	}
	return userID, role, nil
}
