package capability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	authadapter "dashsync/contexts/data-platform/sync-engine/adapters/auth"
	"dashsync/contexts/data-platform/sync-engine/adapters/memory"
	domainerrors "dashsync/contexts/data-platform/sync-engine/domain/errors"
	"dashsync/contexts/data-platform/sync-engine/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type proberFixture struct {
	local   *memory.LocalStore
	blobs   *memory.BlobStore
	records *memory.RecordStore
	auth    *authadapter.StaticAuth
	clock   *memory.Clock
	prober  *Prober
}

func newProberFixture(userID string) proberFixture {
	f := proberFixture{
		local:   memory.NewLocalStore(),
		blobs:   memory.NewBlobStore(),
		records: memory.NewRecordStore("customers"),
		auth:    authadapter.NewStaticAuth(userID),
		clock:   memory.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	f.prober = NewProber(Dependencies{
		Local:   f.local,
		Auth:    f.auth,
		Blobs:   f.blobs,
		Records: f.records,
		Clock:   f.clock,
		TTL:     30 * time.Second,
	})
	return f
}

func TestProbeAllTiersUsable(t *testing.T) {
	f := newProberFixture("user_1")

	status := f.prober.Probe(context.Background(), false)

	assert.True(t, status.LocalStoreUsable)
	assert.True(t, status.RemoteAuthUsable)
	assert.True(t, status.RemoteBlobUsable)
	assert.True(t, status.RemoteTablesUsable)
	assert.Equal(t, "user_1", status.UserID)
	assert.Empty(t, status.Errors)
	assert.Empty(t, status.Hints)
	assert.Equal(t, f.clock.Now(), status.CheckedAt)

	_, leftover := f.local.Raw(sentinelKey)
	assert.False(t, leftover, "probe sentinel must be removed")
}

func TestProbeIsCachedWithinTTL(t *testing.T) {
	f := newProberFixture("user_1")
	ctx := context.Background()

	first := f.prober.Probe(ctx, false)
	f.clock.Advance(29 * time.Second)
	second := f.prober.Probe(ctx, false)

	assert.Equal(t, 1, f.blobs.Calls("ping"))
	assert.Equal(t, first.CheckedAt, second.CheckedAt)

	f.clock.Advance(2 * time.Second)
	third := f.prober.Probe(ctx, false)
	assert.Equal(t, 2, f.blobs.Calls("ping"))
	assert.True(t, third.CheckedAt.After(first.CheckedAt))
}

func TestProbeForceBypassesCache(t *testing.T) {
	f := newProberFixture("user_1")
	ctx := context.Background()

	f.prober.Probe(ctx, false)
	f.prober.Probe(ctx, true)
	assert.Equal(t, 2, f.blobs.Calls("ping"))

	f.prober.Invalidate()
	f.prober.Probe(ctx, false)
	assert.Equal(t, 3, f.blobs.Calls("ping"))
}

func TestStatusIsCachedPerSessionUser(t *testing.T) {
	f := newProberFixture("")
	prober := NewProber(Dependencies{
		Local:   f.local,
		Auth:    authadapter.ContextAuth{},
		Blobs:   f.blobs,
		Records: f.records,
		Clock:   f.clock,
	})
	ctx := context.Background()

	anonymous := prober.Probe(ctx, true)
	require.False(t, anonymous.RemoteBlobUsable)

	signedIn := prober.Probe(authadapter.WithUser(ctx, ports.User{ID: "user_1"}), false)
	assert.True(t, signedIn.RemoteBlobUsable, "an anonymous snapshot is not served to a signed-in user")
	assert.Equal(t, "user_1", signedIn.UserID)

	again := prober.Probe(ctx, false)
	assert.False(t, again.RemoteBlobUsable)
	assert.Empty(t, again.UserID)
	assert.Equal(t, anonymous.CheckedAt, again.CheckedAt)
	assert.Equal(t, 1, f.blobs.Calls("ping"))

	cached, ok := prober.Cached("user_1")
	require.True(t, ok)
	assert.True(t, cached.RemoteBlobUsable)
}

func TestProbeWithoutSessionHintsSignIn(t *testing.T) {
	f := newProberFixture("")

	status := f.prober.Probe(context.Background(), false)

	assert.True(t, status.LocalStoreUsable)
	assert.False(t, status.RemoteAuthUsable)
	assert.False(t, status.RemoteBlobUsable)
	assert.Contains(t, status.Hints, hintSignIn)
	assert.Zero(t, f.blobs.Calls("ping"), "blob store is not probed without a user")
}

func TestProbeMissingSchemaHints(t *testing.T) {
	f := newProberFixture("user_1")
	f.records.DropTable("customers")
	f.blobs.SetFailure(domainerrors.ErrSchemaMissing)

	status := f.prober.Probe(context.Background(), false)

	assert.True(t, status.RemoteAuthUsable)
	assert.False(t, status.RemoteBlobUsable)
	assert.False(t, status.RemoteTablesUsable)
	assert.Contains(t, status.Hints, hintBlobSchema)
	assert.Contains(t, status.Hints, `Provision the "customers" table in the remote record store.`)
	assert.Len(t, status.Errors, 2)
}

func TestProbeTransportFailureIsContained(t *testing.T) {
	f := newProberFixture("user_1")
	f.blobs.SetFailure(domainerrors.ErrTransportUnavailable)
	f.records.SetFailure(domainerrors.ErrTransportUnavailable)

	status := f.prober.Probe(context.Background(), false)

	assert.True(t, status.LocalStoreUsable)
	assert.False(t, status.RemoteBlobUsable)
	assert.False(t, status.RemoteTablesUsable)
	assert.False(t, status.RemoteReachable())
	assert.Equal(t, []string{hintTransport}, status.Hints)
}

func TestProbeLocalFailure(t *testing.T) {
	f := newProberFixture("user_1")
	f.local.SetFailure(errors.New("quota exceeded"))

	status := f.prober.Probe(context.Background(), false)

	assert.False(t, status.LocalStoreUsable)
	assert.True(t, status.RemoteBlobUsable)
	assert.Contains(t, status.Hints, hintLocalUnavailable)
}

type panickingAuth struct{}

func (panickingAuth) CurrentUser(context.Context) (ports.User, bool, error) {
	panic("auth exploded")
}

func TestProbeContainsPanics(t *testing.T) {
	f := newProberFixture("")
	prober := NewProber(Dependencies{
		Local:   f.local,
		Auth:    panickingAuth{},
		Blobs:   f.blobs,
		Records: f.records,
		Clock:   f.clock,
	})

	status := prober.Probe(context.Background(), false)

	assert.True(t, status.LocalStoreUsable)
	assert.False(t, status.RemoteAuthUsable)
	assert.True(t, status.RemoteTablesUsable)
	require.NotEmpty(t, status.Errors)
	assert.Contains(t, status.Errors[0], "panicked")
}

type hangingBlobs struct {
	*memory.BlobStore
}

func (hangingBlobs) Ping(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestProbeBoundsSlowChecks(t *testing.T) {
	f := newProberFixture("user_1")
	prober := NewProber(Dependencies{
		Local:        f.local,
		Auth:         f.auth,
		Blobs:        hangingBlobs{BlobStore: f.blobs},
		Records:      f.records,
		CheckTimeout: 20 * time.Millisecond,
	})

	status := prober.Probe(context.Background(), false)

	assert.False(t, status.RemoteBlobUsable)
	assert.True(t, status.RemoteTablesUsable)
	assert.Contains(t, status.Hints, hintTransport)
}

func TestProbeWithoutRemoteConfiguration(t *testing.T) {
	prober := NewProber(Dependencies{
		Local: memory.NewLocalStore(),
		Auth:  authadapter.NewStaticAuth("user_1"),
	})

	status := prober.Probe(context.Background(), false)

	assert.True(t, status.LocalStoreUsable)
	assert.True(t, status.RemoteAuthUsable)
	assert.False(t, status.RemoteBlobUsable)
	assert.False(t, status.RemoteTablesUsable)
	assert.Equal(t, []string{hintUnconfigured}, status.Hints)
}

func TestConcurrentProbesShareOneRun(t *testing.T) {
	f := newProberFixture("user_1")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status := f.prober.Probe(ctx, false)
			assert.True(t, status.RemoteBlobUsable)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, f.blobs.Calls("ping"), 16)
	assert.GreaterOrEqual(t, f.blobs.Calls("ping"), 1)
}
