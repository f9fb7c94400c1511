package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	cloudfirestore "cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/marketsense/marketsense/internal/analyzer"
	"github.com/marketsense/marketsense/internal/clock"
	clocksystem "github.com/marketsense/marketsense/internal/clock/system"
	"github.com/marketsense/marketsense/internal/config"
	"github.com/marketsense/marketsense/internal/crawler"
	collyfetcher "github.com/marketsense/marketsense/internal/fetcher/colly"
	"github.com/marketsense/marketsense/internal/fetcher/headless"
	"github.com/marketsense/marketsense/internal/llm"
	"github.com/marketsense/marketsense/internal/logging"
	"github.com/marketsense/marketsense/internal/maintenance"
	"github.com/marketsense/marketsense/internal/metrics"
	"github.com/marketsense/marketsense/internal/publisher"
	pubsubpublisher "github.com/marketsense/marketsense/internal/publisher/pubsub"
	"github.com/marketsense/marketsense/internal/queue"
	"github.com/marketsense/marketsense/internal/ratelimit"
	"github.com/marketsense/marketsense/internal/review"
	"github.com/marketsense/marketsense/internal/storage"
	"github.com/marketsense/marketsense/internal/storage/gcs"
	"github.com/marketsense/marketsense/internal/storage/local"
	"github.com/marketsense/marketsense/internal/store"
	storefirestore "github.com/marketsense/marketsense/internal/store/firestore"
	"github.com/marketsense/marketsense/internal/store/memory"
	storepostgres "github.com/marketsense/marketsense/internal/store/postgres"
	"github.com/marketsense/marketsense/internal/throttle"
	"github.com/marketsense/marketsense/internal/worker"
)

// App holds the wired service graph shared by all commands.
type App struct {
	Cfg    config.Config
	Logger *zap.Logger
	Clock  clock.Clock
	Store  store.Store

	closers []func()
}

// newApp loads configuration and connects the selected backends.
func newApp(ctx context.Context) (*App, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	app := &App{
		Cfg:    cfg,
		Logger: logger,
		Clock:  clocksystem.New(),
	}

	st, err := app.buildStore(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Store = st
	return app, nil
}

// Close releases backend connections in reverse wiring order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
}

func (a *App) buildStore(ctx context.Context) (store.Store, error) {
	switch a.Cfg.Store.Backend {
	case "memory":
		a.Logger.Warn("using in-memory task store; state is lost on exit")
		return memory.New(), nil
	case "firestore":
		client, err := cloudfirestore.NewClient(ctx, a.Cfg.Store.Firestore.Project)
		if err != nil {
			return nil, fmt.Errorf("connect firestore: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		return storefirestore.New(client, a.Cfg.Store.Firestore.Collection), nil
	case "postgres":
		st, err := storepostgres.New(ctx, storepostgres.Config{
			DSN:   a.Cfg.Store.Postgres.DSN,
			Table: a.Cfg.Store.Postgres.Table,
		})
		if err != nil {
			return nil, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			st.Close()
			return nil, err
		}
		a.closers = append(a.closers, st.Close)
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", a.Cfg.Store.Backend)
	}
}

func (a *App) newEnqueuer() *queue.Enqueuer {
	return queue.NewEnqueuer(a.Store, a.Clock, a.Logger)
}

func (a *App) newCoordinator() *queue.Coordinator {
	return queue.NewCoordinator(a.Store, a.Clock, a.Logger)
}

func (a *App) newMaintenance() *maintenance.Job {
	return maintenance.New(a.Store, a.Clock, maintenance.Config{
		MaxAttempts: a.Cfg.Maintenance.MaxAttempts,
	}, a.Logger)
}

func (a *App) newFetcher() (crawler.Fetcher, error) {
	if a.Cfg.Crawler.HeadlessEnabled {
		f, err := headless.New(headless.Config{
			MaxParallel:       a.Cfg.Crawler.HeadlessMaxConcurrency,
			UserAgent:         a.Cfg.Crawler.UserAgent,
			NavigationTimeout: a.Cfg.Crawler.HeadlessTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("init headless fetcher: %w", err)
		}
		a.closers = append(a.closers, f.Close)
		return f, nil
	}
	return collyfetcher.New(collyfetcher.Config{
		UserAgent: a.Cfg.Crawler.UserAgent,
		Timeout:   a.Cfg.Crawler.RequestTimeout,
	}), nil
}

func (a *App) newPublisher(ctx context.Context) (publisher.Publisher, error) {
	if a.Cfg.PubSub.Project == "" || a.Cfg.PubSub.Topic == "" {
		return publisher.NoOp{}, nil
	}
	client, err := pubsub.NewClient(ctx, a.Cfg.PubSub.Project)
	if err != nil {
		return nil, fmt.Errorf("connect pubsub: %w", err)
	}
	pub := pubsubpublisher.New(client.Topic(a.Cfg.PubSub.Topic))
	a.closers = append(a.closers, func() {
		pub.Stop()
		_ = client.Close()
	})
	return pub, nil
}

func (a *App) newBlobStores(ctx context.Context) (localStore, remoteStore storage.BlobStore, err error) {
	if a.Cfg.Storage.LocalRawDir != "" {
		localStore, err = local.New(local.Config{BaseDir: a.Cfg.Storage.LocalRawDir})
		if err != nil {
			return nil, nil, fmt.Errorf("init local blob store: %w", err)
		}
	}
	if a.Cfg.Storage.GCSBucket != "" && !a.Cfg.Storage.LocalStoreOnly {
		client, cerr := cloudstorage.NewClient(ctx)
		if cerr != nil {
			return nil, nil, fmt.Errorf("connect gcs: %w", cerr)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		remoteStore, err = gcs.New(client, gcs.Config{Bucket: a.Cfg.Storage.GCSBucket})
		if err != nil {
			return nil, nil, fmt.Errorf("init gcs blob store: %w", err)
		}
	}
	return localStore, remoteStore, nil
}

func (a *App) newWorker(ctx context.Context, batchLimit int, lease time.Duration) (*worker.Worker, error) {
	fetcher, err := a.newFetcher()
	if err != nil {
		return nil, err
	}
	pub, err := a.newPublisher(ctx)
	if err != nil {
		return nil, err
	}
	localStore, remoteStore, err := a.newBlobStores(ctx)
	if err != nil {
		return nil, err
	}
	if batchLimit <= 0 {
		batchLimit = a.Cfg.Worker.BatchLimit
	}
	if lease <= 0 {
		lease = a.Cfg.Worker.Lease
	}

	policy := crawler.NewDomainPolicy(a.Cfg.Crawler.AllowDomains, a.Cfg.Crawler.DenyDomains)
	robots := crawler.NewRobotsPolicy(crawler.RobotsConfig{
		Enabled:   a.Cfg.Crawler.RobotsEnabled,
		UserAgent: a.Cfg.Crawler.RobotsUserAgent,
		FailOpen:  true,
		CacheTTL:  a.Cfg.Crawler.RobotsCacheTTL,
	}, a.Logger)
	thr := throttle.New(throttle.Config{
		DelayBase: a.Cfg.Throttle.DelayBase,
		DelayMax:  a.Cfg.Throttle.DelayMax,
	}, a.Clock)
	limiter := ratelimit.New(ratelimit.Config{
		RPS:   a.Cfg.RateLimit.RPS,
		Burst: a.Cfg.RateLimit.Burst,
	})

	return worker.New(
		a.newCoordinator(),
		policy,
		robots,
		thr,
		limiter,
		fetcher,
		pub,
		a.Clock,
		worker.Config{
			WorkerID:       workerID(),
			BatchLimit:     batchLimit,
			Lease:          lease,
			Concurrency:    a.Cfg.Worker.Concurrency,
			Retries:        a.Cfg.Crawler.Retries,
			UserAgent:      a.Cfg.Crawler.UserAgent,
			RawPrefix:      a.Cfg.Storage.RawPrefix,
			LocalStore:     localStore,
			RemoteStore:    remoteStore,
			LocalStoreOnly: a.Cfg.Storage.LocalStoreOnly,
			Topic:          a.Cfg.PubSub.Topic,
		},
		a.Logger,
	), nil
}

func (a *App) newCompleter(dryRun bool) *llm.Client {
	cfg := llm.Config{
		BaseURL:      a.Cfg.LLM.BaseURL,
		Model:        a.Cfg.LLM.Model,
		APIKey:       a.Cfg.LLM.APIKey,
		APIKeyHeader: a.Cfg.LLM.APIKeyHeader,
		Timeout:      a.Cfg.LLM.Timeout,
		DryRun:       a.Cfg.LLM.DryRun || dryRun,
	}
	return llm.New(cfg)
}

func (a *App) newAnalyzer(ctx context.Context, dryRun bool) (*analyzer.Analyzer, error) {
	_, remoteStore, err := a.newBlobStores(ctx)
	if err != nil {
		return nil, err
	}
	return analyzer.New(a.Store, remoteStore, a.newCompleter(dryRun), a.Clock, analyzer.Config{}, a.Logger), nil
}

func (a *App) newReviewer(dryRun bool) *review.Reviewer {
	return review.New(a.Store, a.newCompleter(dryRun), a.Clock, a.Logger)
}

// workerID identifies this process in lease ownership records.
func workerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
