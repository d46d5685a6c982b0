package syncengine

import (
	"log/slog"
	"time"

	authadapter "dashsync/contexts/data-platform/sync-engine/adapters/auth"
	httpadapter "dashsync/contexts/data-platform/sync-engine/adapters/http"
	"dashsync/contexts/data-platform/sync-engine/adapters/memory"
	"dashsync/contexts/data-platform/sync-engine/application/capability"
	"dashsync/contexts/data-platform/sync-engine/application/catalog"
	"dashsync/contexts/data-platform/sync-engine/application/datamanager"
	"dashsync/contexts/data-platform/sync-engine/application/persistence"
	"dashsync/contexts/data-platform/sync-engine/ports"
)

type Module struct {
	Handler     httpadapter.Handler
	Prober      *capability.Prober
	Persistence *persistence.Manager
	Data        *datamanager.Manager
	Catalog     *catalog.Catalog
	Session     ports.AuthProvider

	// Set by NewInMemoryModule only.
	Local   *memory.LocalStore
	Blobs   *memory.BlobStore
	Records *memory.RecordStore
	Auth    *authadapter.StaticAuth
	Clock   *memory.Clock
}

type Dependencies struct {
	Local   ports.LocalStore
	Blobs   ports.KeyedBlobStore
	Records ports.RecordStore
	Auth    ports.AuthProvider
	Clock   ports.Clock
	IDGen   ports.IDGenerator

	ProbeTTL           time.Duration
	RemoteTimeout      time.Duration
	ProbeTables        []string
	MaxLocalValueBytes int
	MaxReplayAttempts  int
	MaxQueueLength     int
	StartOffline       bool
	Logger             *slog.Logger
}

func NewModule(deps Dependencies) Module {
	prober := capability.NewProber(capability.Dependencies{
		Local:        deps.Local,
		Auth:         deps.Auth,
		Blobs:        deps.Blobs,
		Records:      deps.Records,
		Clock:        deps.Clock,
		TTL:          deps.ProbeTTL,
		CheckTimeout: deps.RemoteTimeout,
		ProbeTables:  deps.ProbeTables,
		Logger:       deps.Logger,
	})
	manager := persistence.NewManager(persistence.Dependencies{
		Local:              deps.Local,
		Blobs:              deps.Blobs,
		Prober:             prober,
		Clock:              deps.Clock,
		LocalOnlyKeys:      []string{datamanager.DefaultQueueKey},
		MaxLocalValueBytes: deps.MaxLocalValueBytes,
		RemoteTimeout:      deps.RemoteTimeout,
		Logger:             deps.Logger,
	})
	data := datamanager.NewManager(datamanager.Dependencies{
		Persistence:       manager,
		Records:           deps.Records,
		Clock:             deps.Clock,
		IDGen:             deps.IDGen,
		IDPrefixes:        catalog.IDPrefixes(),
		MaxReplayAttempts: deps.MaxReplayAttempts,
		MaxQueueLength:    deps.MaxQueueLength,
		RemoteTimeout:     deps.RemoteTimeout,
		StartOffline:      deps.StartOffline,
		Logger:            deps.Logger,
	})
	return Module{
		Handler: httpadapter.Handler{
			Persistence: manager,
			Data:        data,
			Logger:      deps.Logger,
		},
		Prober:      prober,
		Persistence: manager,
		Data:        data,
		Catalog:     catalog.New(data, deps.Auth, deps.Logger),
		Session:     deps.Auth,
	}
}

// NewInMemoryModule wires the engine to process-local stores with every
// record table of the catalog provisioned. userID, when set, is the signed-in
// user.
func NewInMemoryModule(userID string, logger *slog.Logger) Module {
	local := memory.NewLocalStore()
	blobs := memory.NewBlobStore()
	tables := make([]string, 0, len(catalog.Definitions()))
	for _, def := range catalog.Definitions() {
		tables = append(tables, def.Key)
	}
	records := memory.NewRecordStore(tables...)
	auth := authadapter.NewStaticAuth(userID)
	clock := &memory.Clock{}

	module := NewModule(Dependencies{
		Local:   local,
		Blobs:   blobs,
		Records: records,
		Auth:    auth,
		Clock:   clock,
		IDGen:   memory.IDGenerator{},
		Logger:  logger,
	})
	module.Local = local
	module.Blobs = blobs
	module.Records = records
	module.Auth = auth
	module.Clock = clock
	return module
}
