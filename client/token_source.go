package client

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
)

var ErrNoSession = errors.New("no stored session")

type tokenSource struct {
	ctx  context.Context
	auth *Authenticator
}

// TokenSource exposes the session as an oauth2.TokenSource for libraries that
// build their own clients. Expired tokens go through the shared refresh.
func (a *Authenticator) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, auth: a}
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	pair, err := ts.auth.store.Load()
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return nil, ErrNoSession
	}

	access := pair.Access
	if ts.auth.codec.IsExpired(access, ts.auth.nowFunc()) {
		access, err = ts.auth.session.RefreshStale(ts.ctx, access)
		if err != nil {
			return nil, err
		}
	}

	tok := &oauth2.Token{AccessToken: access, TokenType: "Bearer"}
	if claims, err := ts.auth.codec.Decode(access); err == nil {
		tok.Expiry = claims.Expiry
	}
	return tok, nil
}
