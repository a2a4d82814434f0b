package agent

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/openfroyo/stratum/pkg/fault"
)

// Credentials produce the Authorization header for one agent request.
// Implementations must not print secrets from String.
type Credentials interface {
	Authorization(ctx context.Context) (string, error)
	String() string
}

// StaticCredentials authenticate with a fixed username and password.
type StaticCredentials struct {
	Username string
	Password string
}

// Authorization returns the Basic header for the pair.
func (c StaticCredentials) Authorization(context.Context) (string, error) {
	token := base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + c.Password))
	return "Basic " + token, nil
}

func (c StaticCredentials) String() string {
	return fmt.Sprintf("basic(%s:***)", c.Username)
}

// TokenProvider supplies bearer tokens, for example from an identity
// service that rotates them.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenProviderFunc adapts a function to TokenProvider.
type TokenProviderFunc func(ctx context.Context) (string, error)

// Token calls f.
func (f TokenProviderFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// TokenCredentials ask the provider for a token on every request.
type TokenCredentials struct {
	Provider TokenProvider
}

// Authorization returns a Bearer header with a freshly obtained token.
func (c TokenCredentials) Authorization(ctx context.Context) (string, error) {
	if c.Provider == nil {
		return "", fault.NewAuthentication("no agent token provider configured", nil)
	}
	token, err := c.Provider.Token(ctx)
	if err != nil {
		return "", fault.NewAuthentication("failed to obtain agent token", err)
	}
	if token == "" {
		return "", fault.NewAuthentication("agent token provider returned an empty token", nil)
	}
	return "Bearer " + token, nil
}

func (c TokenCredentials) String() string {
	return "bearer(***)"
}

func describeCredentials(c Credentials) string {
	if c == nil {
		return "none"
	}
	return c.String()
}
