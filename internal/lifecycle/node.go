// Package lifecycle owns the ordered startup and shutdown of a node: the
// transport layer, the replicated-store engine, the document collections, the
// blob store and the HTTP boundary come up in strict dependency order and are
// torn down in the order the storage layer needs to flush cleanly.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"newsmesh/internal/audit"
	"newsmesh/internal/logging"
	"newsmesh/internal/news"
	"newsmesh/internal/store"
)

// CollectionAudit is the debug collection backing the audit log.
const CollectionAudit = "audit"

// Transport is the peer network layer. Single-node deployments run without
// one.
type Transport interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Engine is the replicated document store engine collections are opened
// against.
type Engine interface {
	Start(ctx context.Context) error
	Open(name string) news.Collection
	Stop(ctx context.Context) error
}

// Config controls where a node keeps its runtime state.
type Config struct {
	DataDir      string
	StatusPath   string
	PathRefsPath string
	HTTPAddr     string
	// Stagger is the pause between shutdown steps, giving the replicated
	// store time to flush. Defaults to 50ms, clamped to [10ms, 150ms].
	Stagger time.Duration
	Version string
}

func (c Config) stagger() time.Duration {
	s := c.Stagger
	if s == 0 {
		s = 50 * time.Millisecond
	}
	if s < 10*time.Millisecond {
		s = 10 * time.Millisecond
	}
	if s > 150*time.Millisecond {
		s = 150 * time.Millisecond
	}
	return s
}

// Deps are the collaborators a node starts and stops. Transport and Blob may
// be nil; Handler is built after the stores are open so route handlers can
// close over them.
type Deps struct {
	Transport Transport
	Engine    Engine
	Blob      news.BlobStore
	Handler   func(n *Node) http.Handler
	Clock     news.Clock
	Logger    *zap.Logger
}

// Node sequences startup and shutdown of one process.
type Node struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	dirLock *flock.Flock
	httpSrv *http.Server

	auditColl news.Collection
	auditLog  *audit.Logger
	local     *store.Store[news.Article]
	analyzed  *store.Store[news.ArticleAnalyzed]
	federated *store.FederatedStore

	watchStop chan struct{}
	watchDone chan struct{}
	watching  bool

	startedAt time.Time
	stopOnce  sync.Once
	stopErr   error
}

// NewNode validates deps and returns an unstarted node.
func NewNode(cfg Config, deps Deps) (*Node, error) {
	if deps.Engine == nil {
		return nil, errors.New("lifecycle: engine is required")
	}
	if deps.Handler == nil {
		return nil, errors.New("lifecycle: handler factory is required")
	}
	if cfg.DataDir == "" {
		return nil, errors.New("lifecycle: data dir is required")
	}
	return &Node{
		cfg:       cfg,
		deps:      deps,
		logger:    logging.OrNop(deps.Logger).Named("lifecycle"),
		watchStop: make(chan struct{}),
		watchDone: make(chan struct{}),
	}, nil
}

// Audit returns the node's audit logger. Nil before Start.
func (n *Node) Audit() *audit.Logger { return n.auditLog }

// Local returns the URL-keyed article store.
func (n *Node) Local() *store.Store[news.Article] { return n.local }

// Analyzed returns the id-keyed enriched article store.
func (n *Node) Analyzed() *store.Store[news.ArticleAnalyzed] { return n.analyzed }

// Federated returns the append-only pointer store.
func (n *Node) Federated() *store.FederatedStore { return n.federated }

// Blob returns the content-addressed blob store.
func (n *Node) Blob() news.BlobStore { return n.deps.Blob }

// Start brings the node up. Each step must complete before the next begins:
// stale-lock remediation and the process lock, then transport, then the
// replicated-store engine, then the collections, then the HTTP boundary, then
// background peer-update watching. A failed step fails Start; nothing later
// is attempted.
func (n *Node) Start(ctx context.Context) error {
	if _, err := RemediateStaleLocks(n.cfg.DataDir, n.logger); err != nil {
		return err
	}

	fl, err := acquireDirLock(n.cfg.DataDir)
	if err != nil {
		return err
	}
	n.dirLock = fl

	if n.deps.Transport != nil {
		if err := n.deps.Transport.Start(ctx); err != nil {
			return fmt.Errorf("starting transport: %w", err)
		}
	}

	if err := n.deps.Engine.Start(ctx); err != nil {
		return fmt.Errorf("starting store engine: %w", err)
	}

	n.auditColl = n.deps.Engine.Open(CollectionAudit)
	n.auditLog = audit.New(n.auditColl, n.deps.Clock, n.deps.Logger)
	n.local = store.New[news.Article](store.NameLocal, n.deps.Engine.Open(store.NameLocal), n.auditLog, n.deps.Logger)
	n.analyzed = store.New[news.ArticleAnalyzed](store.NameAnalyzed, n.deps.Engine.Open(store.NameAnalyzed), n.auditLog, n.deps.Logger)
	n.federated = store.NewFederated(n.deps.Engine.Open(store.NameFederated), n.auditLog, n.deps.Logger)

	n.startedAt = n.now()
	if err := n.writeRuntimeState(); err != nil {
		// Status files are a convenience for tooling, not a correctness
		// requirement.
		n.logger.Warn("failed to persist runtime state", zap.Error(err))
	}

	n.httpSrv = &http.Server{
		Addr:              n.cfg.HTTPAddr,
		Handler:           n.deps.Handler(n),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		n.logger.Info("http listening", zap.String("addr", n.cfg.HTTPAddr))
		if err := n.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.logger.Error("http server exited", zap.Error(err))
		}
	}()

	n.watching = true
	go n.watchPeerUpdates()

	n.auditLog.Record("lifecycle", "start", "", n.cfg.HTTPAddr)
	n.logger.Info("node started", zap.String("data_dir", n.cfg.DataDir))
	return nil
}

// Stop tears the node down in the order the storage layer needs: each
// collection closes individually, then after a pause the engine stops, then
// the blob node, then transport, then the status file is deleted, then the
// HTTP boundary closes and the data directories are swept for stale lock
// artifacts. Every step is best-effort; the first error is reported after all
// steps ran. Re-entrant calls are no-ops.
func (n *Node) Stop(ctx context.Context) error {
	n.stopOnce.Do(func() {
		n.logger.Info("node stopping")
		stagger := n.cfg.stagger()
		var firstErr error
		keep := func(err error) {
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}

		close(n.watchStop)

		n.auditLog.Record("lifecycle", "stop", "", "")
		n.auditLog.Close()

		if n.local != nil {
			keep(n.local.Close())
		}
		if n.analyzed != nil {
			keep(n.analyzed.Close())
		}
		if n.federated != nil {
			keep(n.federated.Close())
		}
		if n.auditColl != nil {
			keep(n.auditColl.Close())
		}
		if n.watching {
			<-n.watchDone
		}
		time.Sleep(stagger)

		keep(n.deps.Engine.Stop(ctx))
		time.Sleep(stagger)

		if closer, ok := n.deps.Blob.(interface{ Close() error }); ok {
			keep(closer.Close())
		}

		if n.deps.Transport != nil {
			keep(n.deps.Transport.Stop(ctx))
		}
		time.Sleep(stagger)

		if n.cfg.StatusPath != "" {
			keep(RemoveStatus(n.cfg.StatusPath))
		}

		if n.httpSrv != nil {
			keep(n.httpSrv.Shutdown(ctx))
		}

		if _, err := RemediateStaleLocks(n.cfg.DataDir, n.logger); err != nil {
			keep(err)
		}
		if n.dirLock != nil {
			keep(n.dirLock.Unlock())
		}

		n.stopErr = firstErr
		n.logger.Info("node stopped")
	})
	return n.stopErr
}

// Status reports the node's persisted runtime state.
func (n *Node) Status() Status {
	return Status{
		PID:       os.Getpid(),
		HTTPAddr:  n.cfg.HTTPAddr,
		DataDir:   n.cfg.DataDir,
		StartedAt: n.startedAt,
		Version:   n.cfg.Version,
	}
}

func (n *Node) writeRuntimeState() error {
	if n.cfg.StatusPath != "" {
		if err := WriteStatus(n.cfg.StatusPath, n.Status()); err != nil {
			return err
		}
	}
	if n.cfg.PathRefsPath != "" {
		refs := ReadPathRefs(n.cfg.PathRefsPath)
		for _, name := range []string{CollectionAudit, store.NameLocal, store.NameAnalyzed, store.NameFederated} {
			refs.Collections[name] = name
		}
		if err := WritePathRefs(n.cfg.PathRefsPath, refs); err != nil {
			return err
		}
	}
	return nil
}

// watchPeerUpdates drains the peer-update streams of every collection and
// records them in the audit log. The loop and its forwarders exit once every
// stream has closed or the node begins to stop, whichever comes first.
func (n *Node) watchPeerUpdates() {
	defer close(n.watchDone)

	streams := []<-chan news.Update{
		n.auditColl.Updates(),
		n.deps.Engine.Open(store.NameLocal).Updates(),
		n.deps.Engine.Open(store.NameAnalyzed).Updates(),
		n.deps.Engine.Open(store.NameFederated).Updates(),
	}
	merged := make(chan news.Update)
	var wg sync.WaitGroup
	for _, ch := range streams {
		wg.Add(1)
		go func(ch <-chan news.Update) {
			defer wg.Done()
			for {
				// A SQL-backed engine never fires or closes its stream, so
				// the receive itself must also honor shutdown.
				var u news.Update
				select {
				case received, ok := <-ch:
					if !ok {
						return
					}
					u = received
				case <-n.watchStop:
					return
				}
				select {
				case merged <- u:
				case <-n.watchStop:
					return
				}
			}
		}(ch)
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	for {
		select {
		case u, ok := <-merged:
			if !ok {
				return
			}
			n.logger.Debug("peer update",
				zap.String("collection", u.Collection),
				zap.String("key", u.Key),
				zap.String("peer", u.Peer),
			)
			n.auditLog.Record("peer", "update", u.Key, u.Collection)
		case <-n.watchStop:
			return
		}
	}
}

func (n *Node) now() time.Time {
	if n.deps.Clock != nil {
		return n.deps.Clock.Now()
	}
	return time.Now().UTC()
}
