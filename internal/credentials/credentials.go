// Package credentials turns service-account key material, or the ambient
// application-default credentials, into an opaque refreshed token source for
// the alerts API.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

var (
	// ErrInvalidKey means the service-account JSON could not be parsed.
	ErrInvalidKey = errors.New("credentials: invalid service account key")
	// ErrRefresh means the initial token exchange failed.
	ErrRefresh = errors.New("credentials: token refresh failed")
	// ErrNoDefault means no application-default credentials were found.
	ErrNoDefault = errors.New("credentials: application default credentials not found")
)

// Credentials is a capability to call the alerts API. Its shape is private.
type Credentials struct {
	source  oauth2.TokenSource
	subject string
}

// TokenSource returns the reusable, auto-refreshing token source.
func (c Credentials) TokenSource() oauth2.TokenSource {
	return c.source
}

// Subject is the impersonated user, if any.
func (c Credentials) Subject() string {
	return c.subject
}

// Authenticator produces credentials from secret material.
type Authenticator interface {
	Authenticate(ctx context.Context, serviceAccountJSON, subject string) (Credentials, error)
}

// ServiceAccount authenticates with a domain-wide delegated service account.
type ServiceAccount struct {
	Scopes []string
	// TokenURL overrides the key file's token endpoint, mainly for tests.
	TokenURL string
}

// Authenticate parses the key, binds the impersonation subject and performs
// one token exchange so bad keys fail here rather than on the first page.
func (s ServiceAccount) Authenticate(ctx context.Context, serviceAccountJSON, subject string) (Credentials, error) {
	cfg, err := google.JWTConfigFromJSON([]byte(serviceAccountJSON), s.Scopes...)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	cfg.Subject = strings.TrimSpace(subject)
	if s.TokenURL != "" {
		cfg.TokenURL = s.TokenURL
	}

	source := cfg.TokenSource(ctx)
	if _, err := source.Token(); err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrRefresh, err)
	}
	return Credentials{source: source, subject: cfg.Subject}, nil
}

// ApplicationDefault authenticates with the credentials the environment
// provides (GOOGLE_APPLICATION_CREDENTIALS, gcloud, metadata server). No
// secrets are read, so the key and subject arguments are ignored.
type ApplicationDefault struct {
	Scopes []string
}

func (a ApplicationDefault) Authenticate(ctx context.Context, _, _ string) (Credentials, error) {
	found, err := google.FindDefaultCredentials(ctx, a.Scopes...)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrNoDefault, err)
	}
	source := oauth2.ReuseTokenSource(nil, found.TokenSource)
	if _, err := source.Token(); err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrRefresh, err)
	}
	return Static(source), nil
}

// Static wraps an existing token source with no impersonated subject.
func Static(source oauth2.TokenSource) Credentials {
	return Credentials{source: source}
}

var (
	_ Authenticator = ServiceAccount{}
	_ Authenticator = ApplicationDefault{}
)
