// Package oauth schedules refreshes of stored platform tokens. It performs
// jittered checks, refreshes when expiry falls within a configured window and
// reports each successful refresh so live connections can pick up the new token.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/onnwee/multichat/chat"
	"github.com/onnwee/multichat/message"
)

// RefreshFunc performs provider-specific refresh and returns (access, refresh, expiry, scope)
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// TokenStore is where refreshed tokens are read from and written back to.
type TokenStore interface {
	chat.TokenProvider
	SaveToken(ctx context.Context, t chat.Token) error
}

// Refresher keeps one platform's token fresh.
type Refresher struct {
	Platform message.Platform
	Store    TokenStore
	Refresh  RefreshFunc
	// Interval is how often to wake up and check; Window is how close to
	// expiry a token must be before it is refreshed.
	Interval time.Duration
	Window   time.Duration
	// OnRefreshed runs after a refreshed token has been persisted.
	OnRefreshed func(ctx context.Context)

	now func() time.Time
}

func (r *Refresher) defaults() {
	if r.Interval <= 0 {
		r.Interval = 5 * time.Minute
	}
	if r.Window <= 0 {
		r.Window = 15 * time.Minute
	}
	if r.now == nil {
		r.now = time.Now
	}
}

// Start launches the refresh loop; it stops when ctx is done.
func (r *Refresher) Start(ctx context.Context) {
	r.defaults()
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(r.Interval/2) + 1))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			// Per-iteration jitter of +/-20% of interval.
			jitterRange := int64(r.Interval/5) + 1
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := r.Interval + jitter
			if nextSleep < r.Interval/2 {
				nextSleep = r.Interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
			if _, err := r.Check(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("token refresh failed", slog.String("provider", string(r.Platform)), slog.Any("err", err))
			}
		}
	}()
}

// Check refreshes the token if it is within the window. It reports whether a
// refresh happened. A missing token or one without a refresh token is skipped.
func (r *Refresher) Check(ctx context.Context) (bool, error) {
	r.defaults()
	if r.Refresh == nil {
		return false, errors.New("no refresh func configured")
	}
	tok, err := r.Store.GetToken(ctx, r.Platform)
	if err != nil {
		return false, err
	}
	if tok == nil || tok.RefreshToken == "" {
		return false, nil
	}
	if !tok.Expiry.IsZero() && tok.Expiry.Sub(r.now()) > r.Window {
		return false, nil
	}

	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	newAT, newRT, newExp, newScope, err := r.Refresh(ctx2, tok.RefreshToken)
	cancel()
	if err != nil {
		return false, err
	}
	if newAT == "" {
		return false, errors.New("refresh returned empty access token")
	}
	if newRT == "" {
		newRT = tok.RefreshToken
	}
	if newScope == "" {
		newScope = tok.Scope
	}
	err = r.Store.SaveToken(ctx, chat.Token{
		Platform:     r.Platform,
		AccessToken:  newAT,
		RefreshToken: newRT,
		Expiry:       newExp,
		Scope:        strings.TrimSpace(newScope),
	})
	if err != nil {
		return false, fmt.Errorf("token persist failed: %w", err)
	}
	slog.Info("token refreshed", slog.String("provider", string(r.Platform)), slog.Time("expires_at", newExp))
	if r.OnRefreshed != nil {
		r.OnRefreshed(ctx)
	}
	return true, nil
}
