package auth

import "strings"

// DefaultUserName is used when neither a display name nor an email local
// part is available.
const DefaultUserName = "User"

// DisplayName picks a name by precedence: the provider display name, then
// the local part of the email (everything before the first "@"), then
// DefaultUserName.
func DisplayName(displayName, email string) string {
	if name := strings.TrimSpace(displayName); name != "" {
		return name
	}
	if local, _, _ := strings.Cut(email, "@"); strings.TrimSpace(local) != "" {
		return strings.TrimSpace(local)
	}
	return DefaultUserName
}

// NormalizeUser converts a raw identity into an AuthUser.
func NormalizeUser(id *Identity) AuthUser {
	return AuthUser{
		ID:       id.UID,
		Email:    id.Email,
		Name:     DisplayName(id.DisplayName, id.Email),
		PhotoURL: id.PhotoURL,
	}
}
