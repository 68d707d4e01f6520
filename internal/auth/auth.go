// Package auth supplies the opaque auth token attached to backend requests
// and outbound chat envelopes.
package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/zulandar/fieldchat/internal/config"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Provider returns the current auth token. An empty token with a nil error
// means the session is anonymous.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// Static is a fixed token.
type Static string

// Token implements Provider.
func (s Static) Token(context.Context) (string, error) {
	return string(s), nil
}

// OAuth adapts an oauth2.TokenSource.
type OAuth struct {
	mu    sync.Mutex
	build func(ctx context.Context) oauth2.TokenSource
	ts    oauth2.TokenSource
}

// NewOAuth wraps an existing token source.
func NewOAuth(ts oauth2.TokenSource) *OAuth {
	return &OAuth{ts: oauth2.ReuseTokenSource(nil, ts)}
}

// NewClientCredentials builds a provider for the OAuth2 client-credentials
// grant. The token source is created lazily with the first caller's context.
func NewClientCredentials(cfg config.ClientCredentialsConfig) *OAuth {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	return &OAuth{build: func(ctx context.Context) oauth2.TokenSource {
		return cc.TokenSource(context.WithoutCancel(ctx))
	}}
}

// Token implements Provider.
func (o *OAuth) Token(ctx context.Context) (string, error) {
	o.mu.Lock()
	if o.ts == nil {
		o.ts = o.build(ctx)
	}
	ts := o.ts
	o.mu.Unlock()

	tok, err := ts.Token()
	if err != nil {
		return "", fmt.Errorf("auth: fetch token: %w", err)
	}
	return tok.AccessToken, nil
}

// New selects a provider from config. A static token wins over client
// credentials; with neither configured the session is anonymous.
func New(cfg config.AuthConfig) Provider {
	switch {
	case cfg.Token != "":
		return Static(cfg.Token)
	case cfg.ClientCredentials.Enabled():
		return NewClientCredentials(cfg.ClientCredentials)
	default:
		return Static("")
	}
}
