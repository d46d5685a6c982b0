package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	application "dashsync/contexts/data-platform/sync-engine/application"
	"dashsync/contexts/data-platform/sync-engine/domain/entities"
	domainerrors "dashsync/contexts/data-platform/sync-engine/domain/errors"
	"dashsync/contexts/data-platform/sync-engine/ports"
)

const (
	DefaultTTL          = 30 * time.Second
	DefaultCheckTimeout = 8 * time.Second

	sentinelKey = "__dashsync_probe__"
)

var errNoSession = errors.New("no signed-in user")

const (
	hintSignIn           = "Sign in to enable per-user remote storage and cross-device sync."
	hintUnconfigured     = "Configure remote store credentials (POSTGRES_DSN or REDIS_ADDR) to enable remote tiers."
	hintTransport        = "Check network connectivity and remote store credentials; writes are queued until the remote store is reachable."
	hintBlobSchema       = "Create the user_storage table (user_id, storage_key, data text, updated_at timestamptz) with primary key (user_id, storage_key)."
	hintLocalUnavailable = "Local storage is unavailable; data written now will not survive a restart."
)

type Dependencies struct {
	Local        ports.LocalStore
	Auth         ports.AuthProvider
	Blobs        ports.KeyedBlobStore
	Records      ports.RecordStore
	Clock        ports.Clock
	TTL          time.Duration
	CheckTimeout time.Duration
	// ProbeTables are the record-store tables whose presence gates the
	// record tier. Defaults to "customers".
	ProbeTables []string
	Logger      *slog.Logger
}

// Prober tests each tier and caches the resulting snapshot for TTL, one per
// session user, since the auth and keyed-blob results depend on who asks. It
// is safe for concurrent use; concurrent probes for one user collapse into one.
type Prober struct {
	deps   Dependencies
	group  singleflight.Group
	mu     sync.Mutex
	cached map[string]entities.CapabilityStatus
	logger *slog.Logger
}

func NewProber(deps Dependencies) *Prober {
	if deps.TTL <= 0 {
		deps.TTL = DefaultTTL
	}
	if deps.CheckTimeout <= 0 {
		deps.CheckTimeout = DefaultCheckTimeout
	}
	if len(deps.ProbeTables) == 0 {
		deps.ProbeTables = []string{"customers"}
	}
	return &Prober{
		deps:   deps,
		cached: make(map[string]entities.CapabilityStatus),
		logger: application.ResolveLogger(deps.Logger),
	}
}

// Probe returns the cached status of the session user resolved from ctx while
// it is fresh, unless force is set. It never fails: a failing or panicking
// check only downgrades its own tier.
func (p *Prober) Probe(ctx context.Context, force bool) entities.CapabilityStatus {
	session := p.resolveSession(ctx)
	if !force {
		if cached, ok := p.Cached(session.userID); ok && cached.Fresh(p.now(), p.deps.TTL) {
			return cached
		}
	}

	result, _, _ := p.group.Do("status:"+session.userID, func() (any, error) {
		status := p.run(ctx, session)
		p.store(session.userID, status)
		return status, nil
	})
	return result.(entities.CapabilityStatus).Clone()
}

// Cached returns the last snapshot for userID regardless of age. The
// anonymous snapshot is keyed by "".
func (p *Prober) Cached(userID string) (entities.CapabilityStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	status, ok := p.cached[userID]
	if !ok {
		return entities.CapabilityStatus{}, false
	}
	return status.Clone(), true
}

// Invalidate drops every cached snapshot so the next Probe runs all checks.
func (p *Prober) Invalidate() {
	p.mu.Lock()
	p.cached = make(map[string]entities.CapabilityStatus)
	p.mu.Unlock()
}

// store keeps status for userID and evicts other users' expired snapshots.
func (p *Prober) store(userID string, status entities.CapabilityStatus) {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	for owner, cached := range p.cached {
		if owner != userID && !cached.Fresh(now, p.deps.TTL) {
			delete(p.cached, owner)
		}
	}
	p.cached[userID] = status
}

type sessionUser struct {
	userID string
	err    error
}

// resolveSession finds the signed-in user ahead of the cache lookup. Auth
// errors fall into the anonymous slot and are reported by the run that follows.
func (p *Prober) resolveSession(ctx context.Context) sessionUser {
	var userID string
	err := p.check(ctx, "remote auth", func(ctx context.Context) error {
		id, err := p.checkAuth(ctx)
		userID = id
		return err
	})
	if err != nil {
		return sessionUser{err: err}
	}
	return sessionUser{userID: userID}
}

func (p *Prober) run(ctx context.Context, session sessionUser) entities.CapabilityStatus {
	status := entities.CapabilityStatus{
		Errors: []string{},
		Hints:  []string{},
	}
	hints := hintSet{items: []string{}}

	if err := p.check(ctx, "local store", p.checkLocal); err != nil {
		status.Errors = append(status.Errors, "local store: "+err.Error())
		hints.add(hintLocalUnavailable)
	} else {
		status.LocalStoreUsable = true
	}

	err := session.err
	switch {
	case err == nil:
		status.RemoteAuthUsable = true
		status.UserID = session.userID
	case errors.Is(err, errNoSession):
		status.Errors = append(status.Errors, "remote auth: "+err.Error())
		hints.add(hintSignIn)
	default:
		status.Errors = append(status.Errors, "remote auth: "+err.Error())
		hints.add(remediation(err, ""))
	}

	if status.RemoteAuthUsable {
		owner := status.UserID
		err := p.check(ctx, "remote keyed-blob store", func(ctx context.Context) error {
			if p.deps.Blobs == nil {
				return domainerrors.ErrRemoteUnconfigured
			}
			return p.deps.Blobs.Ping(ctx, owner)
		})
		if err != nil {
			status.Errors = append(status.Errors, "remote keyed-blob store: "+err.Error())
			if errors.Is(err, domainerrors.ErrSchemaMissing) {
				hints.add(hintBlobSchema)
			} else {
				hints.add(remediation(err, ""))
			}
		} else {
			status.RemoteBlobUsable = true
		}
	}

	tablesUsable := true
	for _, table := range p.deps.ProbeTables {
		err := p.check(ctx, "remote table "+table, func(ctx context.Context) error {
			if p.deps.Records == nil {
				return domainerrors.ErrRemoteUnconfigured
			}
			_, err := p.deps.Records.Select(ctx, table, nil, 1)
			return err
		})
		if err != nil {
			tablesUsable = false
			status.Errors = append(status.Errors, fmt.Sprintf("remote table %s: %s", table, err.Error()))
			hints.add(remediation(err, table))
		}
	}
	status.RemoteTablesUsable = tablesUsable

	status.Hints = hints.items
	status.CheckedAt = p.now()

	p.logger.Info("capability probe completed",
		"event", "sync_engine_capability_probe_completed",
		"module", application.Module,
		"layer", "application",
		"local_store_usable", status.LocalStoreUsable,
		"remote_auth_usable", status.RemoteAuthUsable,
		"remote_blob_usable", status.RemoteBlobUsable,
		"remote_tables_usable", status.RemoteTablesUsable,
		"error_count", len(status.Errors),
	)
	return status
}

// check runs one probe step in its own goroutine so a hung adapter or a
// panic cannot stall or abort the probe as a whole.
func (p *Prober) check(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, p.deps.CheckTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("capability check panicked",
					"event", "sync_engine_capability_check_panicked",
					"module", application.Module,
					"layer", "application",
					"check", name,
					"panic", fmt.Sprint(r),
				)
				done <- fmt.Errorf("%s check panicked: %v", name, r)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s check: %w: %v", name, domainerrors.ErrTransportUnavailable, ctx.Err())
	}
}

func (p *Prober) checkLocal(_ context.Context) error {
	if p.deps.Local == nil {
		return errors.New("local store is not configured")
	}
	want := "probe-" + strconv.FormatInt(p.now().UnixNano(), 10)
	if err := p.deps.Local.Set(sentinelKey, want); err != nil {
		return err
	}
	got, ok, err := p.deps.Local.Get(sentinelKey)
	if err != nil {
		return err
	}
	if err := p.deps.Local.Remove(sentinelKey); err != nil {
		return err
	}
	if !ok || got != want {
		return errors.New("sentinel read-back mismatch")
	}
	return nil
}

func (p *Prober) checkAuth(ctx context.Context) (string, error) {
	if p.deps.Auth == nil {
		return "", domainerrors.ErrRemoteUnconfigured
	}
	user, ok, err := p.deps.Auth.CurrentUser(ctx)
	if err != nil {
		return "", err
	}
	if !ok || user.ID == "" {
		return "", errNoSession
	}
	return user.ID, nil
}

func (p *Prober) now() time.Time {
	if p.deps.Clock != nil {
		return p.deps.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func remediation(err error, table string) string {
	switch {
	case errors.Is(err, domainerrors.ErrSchemaMissing) && table != "":
		return fmt.Sprintf("Provision the %q table in the remote record store.", table)
	case errors.Is(err, domainerrors.ErrSchemaMissing):
		return hintBlobSchema
	case errors.Is(err, domainerrors.ErrRemoteUnconfigured):
		return hintUnconfigured
	default:
		return hintTransport
	}
}

type hintSet struct {
	items []string
}

func (h *hintSet) add(hint string) {
	for _, existing := range h.items {
		if existing == hint {
			return
		}
	}
	h.items = append(h.items, hint)
}
