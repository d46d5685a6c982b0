package authadapter

import (
	"context"
	"strings"
	"sync"

	"dashsync/contexts/data-platform/sync-engine/ports"
)

// WithUser returns a context carrying the signed-in user.
func WithUser(ctx context.Context, user ports.User) context.Context {
	return ports.ContextWithUser(ctx, user)
}

// UserFrom returns the user stored by WithUser.
func UserFrom(ctx context.Context) (ports.User, bool) {
	return ports.UserFromContext(ctx)
}

// ContextAuth resolves the current user from the request context, falling
// back to Default when the context carries none.
type ContextAuth struct {
	Default ports.User
}

func (a ContextAuth) CurrentUser(ctx context.Context) (ports.User, bool, error) {
	if user, ok := UserFrom(ctx); ok {
		return user, true, nil
	}
	if strings.TrimSpace(a.Default.ID) != "" {
		return a.Default, true, nil
	}
	return ports.User{}, false, nil
}

// StaticAuth reports a fixed session that can be swapped at runtime, which is
// how sign-in and sign-out reach the engine in tests and single-user setups.
type StaticAuth struct {
	mu   sync.RWMutex
	user ports.User
	err  error
}

func NewStaticAuth(userID string) *StaticAuth {
	return &StaticAuth{user: ports.User{ID: strings.TrimSpace(userID)}}
}

func (a *StaticAuth) SignIn(user ports.User) {
	a.mu.Lock()
	a.user = user
	a.err = nil
	a.mu.Unlock()
}

func (a *StaticAuth) SignOut() {
	a.mu.Lock()
	a.user = ports.User{}
	a.mu.Unlock()
}

// SetFailure makes CurrentUser return err until cleared with nil.
func (a *StaticAuth) SetFailure(err error) {
	a.mu.Lock()
	a.err = err
	a.mu.Unlock()
}

func (a *StaticAuth) CurrentUser(_ context.Context) (ports.User, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.err != nil {
		return ports.User{}, false, a.err
	}
	if a.user.ID == "" {
		return ports.User{}, false, nil
	}
	return a.user, true, nil
}

var (
	_ ports.AuthProvider = ContextAuth{}
	_ ports.AuthProvider = (*StaticAuth)(nil)
)
