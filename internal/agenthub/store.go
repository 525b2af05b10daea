package agenthub

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/agentworkforce/agenthub/internal/metrics"
)

// Store is the storage-and-coordination engine. All shared mutable state is
// the directory tree under root; the only in-memory state is the best-effort
// waiter counters, which self-heal after a restart.
type Store struct {
	paths   layout
	cfg     SystemConfig
	locks   *lockManager
	waiters *waitCoordinator
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

type StoreOptions struct {
	// Root defaults to $HOME/.agenthub.
	Root   string
	Logger zerolog.Logger
	// Config overrides system/config.json entirely when set (tests).
	Config  *SystemConfig
	Metrics *metrics.Metrics
}

func NewStore(opts StoreOptions) (*Store, error) {
	root := opts.Root
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		root = filepath.Join(home, ".agenthub")
	}
	paths := layout{root: root}
	for _, dir := range []string{
		paths.projectsDir(),
		paths.locksDir(),
		paths.clientsDir(),
		filepath.Join(root, systemDirName),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	var cfg SystemConfig
	if opts.Config != nil {
		cfg = *opts.Config
	} else {
		loaded, err := loadSystemConfig(paths.configFile())
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	logger := opts.Logger.With().Str("component", "agenthub.store").Logger()
	s := &Store{
		paths:   paths,
		cfg:     cfg,
		logger:  logger,
		metrics: opts.Metrics,
	}
	s.locks = &lockManager{
		dir:       paths.locksDir(),
		stale:     cfg.lockStale(),
		timeout:   cfg.lockTimeout(),
		retry:     cfg.lockRetry(),
		logger:    logger,
		onReclaim: opts.Metrics.StaleLockReclaimed,
	}
	s.waiters = newWaitCoordinator(cfg.MaxConcurrentWaiters, cfg.pollInterval(), cfg.maxWait(), logger, opts.Metrics)
	return s, nil
}

// Root returns the storage root directory.
func (s *Store) Root() string {
	return s.paths.root
}

// Config returns the active tunables.
func (s *Store) Config() SystemConfig {
	return s.cfg
}

func (s *Store) observe(op string, err error) {
	outcome := "ok"
	if err != nil {
		if e, ok := CallerError(err); ok {
			outcome = string(e.Kind)
		} else {
			outcome = "fault"
		}
	}
	s.metrics.ObserveOp(op, outcome)
}
