package web

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/goji/httpauth"
)

// Credentials guard the monitor with HTTP basic auth
type Credentials struct {
	User     string
	Password string
}

// ParseCredentials splits a "user:password" flag value. An empty value
// disables authentication.
func ParseCredentials(s string) (*Credentials, error) {
	if s == "" {
		return nil, nil
	}
	user, pass, ok := strings.Cut(s, ":")
	if !ok || user == "" || pass == "" {
		return nil, fmt.Errorf("monitor auth must be user:password")
	}
	return &Credentials{User: user, Password: pass}, nil
}

// Middleware wraps next with basic auth
func (c *Credentials) Middleware(next http.Handler) http.Handler {
	return httpauth.BasicAuth(httpauth.AuthOptions{
		Realm:    "hoi-train",
		User:     c.User,
		Password: c.Password,
	})(next)
}
