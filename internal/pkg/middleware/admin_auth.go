package middleware

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// AdminAuthorizer checks basic auth credentials against users. A configured
// password starting with a bcrypt prefix is compared as a hash, anything else
// as plain text.
func AdminAuthorizer(users map[string]string) func(user, pass string) bool {
	return func(user, pass string) bool {
		want, ok := users[user]
		if !ok || want == "" {
			return false
		}
		if isBcryptHash(want) {
			return bcrypt.CompareHashAndPassword([]byte(want), []byte(pass)) == nil
		}
		return subtle.ConstantTimeCompare([]byte(want), []byte(pass)) == 1
	}
}

// HashAdminPassword returns a bcrypt hash suitable for ADMIN_PASSWORD.
func HashAdminPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}
