package domain

import (
	"github.com/google/uuid"
)

// ActorContext identifies who a cart or ledger operation acts on behalf of:
// an authenticated user, or a guest keyed by an opaque session token.
// It is always passed explicitly; operations never read ambient request state.
type ActorContext struct {
	UserID       *uuid.UUID `json:"user_id,omitempty"`
	SessionToken string     `json:"session_token,omitempty"`
}

// UserActor builds an ActorContext for an authenticated user.
func UserActor(userID uuid.UUID) ActorContext {
	return ActorContext{UserID: &userID}
}

// GuestActor builds an ActorContext for a guest session.
func GuestActor(sessionToken string) ActorContext {
	return ActorContext{SessionToken: sessionToken}
}

// IsAuthenticated returns true when the actor is a known user.
func (a ActorContext) IsAuthenticated() bool {
	return a.UserID != nil
}

// IsZero returns true when the actor carries neither a user nor a session.
func (a ActorContext) IsZero() bool {
	return a.UserID == nil && a.SessionToken == ""
}

// Owns reports whether the actor owns a cart keyed by the given owner fields.
func (a ActorContext) Owns(userID *uuid.UUID, sessionToken *string) bool {
	if a.UserID != nil {
		return userID != nil && *userID == *a.UserID
	}
	return sessionToken != nil && a.SessionToken != "" && *sessionToken == a.SessionToken
}
