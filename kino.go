// Package kino is the adaptive video streaming client library's SDK
// entrypoint: it wires configuration, logging, manifest parsing,
// segment fetching, caching, and the WebSocket telemetry bridge around
// a registry of playback sessions.
package kino

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ExpertVagabond/kino/pkg/cache"
	"github.com/ExpertVagabond/kino/pkg/config"
	"github.com/ExpertVagabond/kino/pkg/errors"
	"github.com/ExpertVagabond/kino/pkg/fetch"
	"github.com/ExpertVagabond/kino/pkg/logger"
	"github.com/ExpertVagabond/kino/pkg/manifest"
	"github.com/ExpertVagabond/kino/pkg/manifest/dash"
	"github.com/ExpertVagabond/kino/pkg/manifest/hls"
	"github.com/ExpertVagabond/kino/pkg/session"
	"github.com/ExpertVagabond/kino/pkg/transport"
	"github.com/ExpertVagabond/kino/pkg/types"
)

// SDK is the library's top-level handle: one per embedding host
// process, holding the shared fetcher, manifest cache, and the set of
// playback sessions it has created.
type SDK struct {
	config *config.SDKConfig
	logger logger.Logger

	fetcher       *fetch.Fetcher
	manifestCache cache.Cache
	bridge        *transport.Bridge

	mu       sync.RWMutex
	sessions map[types.SessionID]*session.Session
}

// New builds an SDK from cfg (DefaultSDKConfig() if nil), validating it
// and standing up the fetcher, cache, and transport bridge it
// describes.
func New(ctx context.Context, cfg *config.SDKConfig) (*SDK, error) {
	if cfg == nil {
		cfg = config.DefaultSDKConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logger.NewDefaultLogger(logger.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)

	fetcher, err := fetch.New(ctx, cfg.Player.ToPlayerConfig(), cfg.S3, log)
	if err != nil {
		return nil, errors.NewInternalError(fmt.Sprintf("failed to build fetcher: %v", err))
	}

	manifestCache, err := buildCache(cfg, log)
	if err != nil {
		return nil, err
	}

	var bridge *transport.Bridge
	if cfg.Transport.Enabled {
		bridge = transport.NewBridge(transport.DefaultBridgeConfig(), log)
	}

	return &SDK{
		config:        cfg,
		logger:        log,
		fetcher:       fetcher,
		manifestCache: manifestCache,
		bridge:        bridge,
		sessions:      make(map[types.SessionID]*session.Session),
	}, nil
}

// buildCache assembles the manifest/segment-template cache described by
// cfg.Cache, layering an in-memory tier in front of Redis when both are
// configured so a live manifest re-polled on a short interval rarely
// makes a network round trip.
func buildCache(cfg *config.SDKConfig, log logger.Logger) (cache.Cache, error) {
	if !cfg.Cache.Enabled {
		return cache.NewInMemoryCache(0, 0, cache.EvictionPolicyLRU), nil
	}

	memTier := cache.NewInMemoryCache(cfg.Cache.MaxEntries, cfg.Cache.DefaultTTL, cache.EvictionPolicy(cfg.Cache.EvictionPolicy))
	memTier.Start()

	if cfg.Cache.Backend != "redis" {
		return memTier, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	redisTier := cache.NewRedisCache(client, cfg.Redis.KeyPrefix, cfg.Cache.DefaultTTL)

	log.Info("manifest cache backed by redis", logger.Field{Key: "address", Value: cfg.Redis.Address})
	return cache.NewMultiLevelCache(memTier, redisTier), nil
}

// parserForKind dispatches a manifest.Kind to the HLS or DASH parser,
// both backed by the SDK's shared, retrying fetcher wrapped in the
// manifest cache so re-loading the same URL within the cache's TTL
// skips the network round trip.
func (s *SDK) parserForKind(kind manifest.Kind) manifest.Parser {
	cached := manifest.NewCachingFetcher(s.fetcher, s.manifestCache, s.config.Cache.DefaultTTL)
	if kind == manifest.KindDASH {
		return dash.New(cached)
	}
	return hls.New(cached)
}

// NewSession creates and registers a playback session using the SDK's
// player defaults, wiring its segment fetches through the shared
// fetcher (S3-aware, decrypt-capable) rather than a bare HTTP GET.
func (s *SDK) NewSession() *session.Session {
	sess := session.New(s.config.Player.ToPlayerConfig(), s.parserForKind, s.logger)
	sess.SetFetcher(s.fetcher)

	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()

	s.logger.Info("session created", logger.Field{Key: "session_id", Value: string(sess.ID())})
	return sess
}

// Session looks up a previously created session by id.
func (s *SDK) Session(id types.SessionID) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, errors.NewInternalError(fmt.Sprintf("session %s not found", id))
	}
	return sess, nil
}

// Sessions returns every currently registered session.
func (s *SDK) Sessions() []*session.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// CloseSession stops a session's playback and drops it from the
// registry.
func (s *SDK) CloseSession(id types.SessionID) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if !ok {
		return errors.NewInternalError(fmt.Sprintf("session %s not found", id))
	}
	sess.Stop()
	return nil
}

// Load is a convenience wrapper creating a session and loading a
// manifest URL into it in one call, the common case for a host that
// plays one piece of content per session.
func (s *SDK) Load(ctx context.Context, rawURL string) (*session.Session, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.NewManifestParseError(fmt.Sprintf("invalid manifest URL: %v", err))
	}

	sess := s.NewSession()
	if err := sess.Load(ctx, u); err != nil {
		s.mu.Lock()
		delete(s.sessions, sess.ID())
		s.mu.Unlock()
		return nil, err
	}
	return sess, nil
}

// ServeSession upgrades w/r to a WebSocket connection and streams
// sess's state and analytics events to it, blocking for the
// connection's lifetime. Returns an error if the transport bridge was
// not enabled in the SDK's configuration.
func (s *SDK) ServeSession(w http.ResponseWriter, r *http.Request, sess *session.Session) error {
	if s.bridge == nil {
		return errors.NewInternalError("transport bridge is not enabled (set transport.enabled in config)")
	}
	return s.bridge.Serve(w, r, sess, sess.Analytics())
}

// TransportAddr returns the configured WebSocket bridge listen address
// and path, for hosts that run ServeSession behind their own
// http.Server.
func (s *SDK) TransportAddr() (addr, path string, enabled bool) {
	return s.config.Transport.Addr, s.config.Transport.Path, s.config.Transport.Enabled
}

// Config returns the SDK's configuration.
func (s *SDK) Config() *config.SDKConfig { return s.config }

// Logger returns the SDK's logger.
func (s *SDK) Logger() logger.Logger { return s.logger }

// Close releases the SDK's cache and stops every registered session.
// It does not close per-session analytics emitters, and Session.Stop
// does not either: a session's emitter keeps running until it is closed
// through Session.Analytics().Close().
func (s *SDK) Close(ctx context.Context) error {
	s.mu.Lock()
	sessions := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[types.SessionID]*session.Session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Stop()
	}

	return s.manifestCache.Clear(ctx)
}

// Version returns the SDK version.
func Version() string { return "0.1.0" }

// DefaultPollInterval is the default spacing the probe CLI uses
// between UpdatePosition/ReselectRendition ticks; exported so a host
// can match it without hardcoding the number twice.
const DefaultPollInterval = 500 * time.Millisecond
