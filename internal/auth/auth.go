// Package auth holds the authentication options of a channel and the token
// authenticator a server hands to every channel it accepts.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/codefionn/buildwire/internal/securemem"
)

// tokenBytes is the entropy of a generated token.
const tokenBytes = 32

// ErrNoToken is returned when a token file holds no token.
var ErrNoToken = errors.New("token file holds no token")

// Options lists the authentication methods a channel requires.
type Options struct {
	Token bool
}

// RequiresToken reports whether the client must present a token on initialize.
func (o Options) RequiresToken() bool {
	return o.Token
}

// Authenticator verifies the token sent by a client.
type Authenticator interface {
	Authenticate(token string) bool
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(token string) bool

// Authenticate calls f.
func (f AuthenticatorFunc) Authenticate(token string) bool { return f(token) }

// TokenAuthenticator accepts exactly one secret token.
type TokenAuthenticator struct {
	token *securemem.String
}

// NewTokenAuthenticator generates a fresh random token.
func NewTokenAuthenticator() *TokenAuthenticator {
	return &TokenAuthenticator{token: securemem.NewRandomHex(tokenBytes)}
}

// NewStaticAuthenticator accepts the given token.
func NewStaticAuthenticator(token string) *TokenAuthenticator {
	return &TokenAuthenticator{token: securemem.NewString(token)}
}

// Authenticate compares token with the secret in constant time. Empty tokens never match.
func (a *TokenAuthenticator) Authenticate(token string) bool {
	if token == "" {
		return false
	}
	return a.token.Equal(token)
}

// Token returns a plaintext copy of the secret, for writing the token file.
func (a *TokenAuthenticator) Token() string {
	return a.token.String()
}

// Destroy wipes the secret; afterwards every token is rejected.
func (a *TokenAuthenticator) Destroy() {
	a.token.Destroy()
}

// TokenFile is the document a server writes so local clients can authenticate.
type TokenFile struct {
	URI   string `json:"uri"`
	Token string `json:"token"`
}

// WriteTokenFile writes uri and the authenticator's token to path, readable by the owner only.
// The file is replaced atomically.
func WriteTokenFile(path string, uri string, a *TokenAuthenticator) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	data, err := json.Marshal(TokenFile{URI: uri, Token: a.Token()})
	if err != nil {
		return fmt.Errorf("failed to encode token file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".token-*")
	if err != nil {
		return fmt.Errorf("failed to create token file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to restrict token file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close token file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to install token file: %w", err)
	}
	return nil
}

// ReadTokenFile reads a token file written by WriteTokenFile.
func ReadTokenFile(path string) (TokenFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TokenFile{}, fmt.Errorf("failed to read token file: %w", err)
	}
	var tf TokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return TokenFile{}, fmt.Errorf("failed to decode token file %s: %w", path, err)
	}
	if tf.Token == "" {
		return TokenFile{}, ErrNoToken
	}
	return tf, nil
}
