// Package server is the hub's composition root, binding every subsystem
// together and owning the process lifecycle: it is the direct generalization
// of the teacher's internal/server.Server (NewServer/Start/Shutdown), minus
// the teacher's single fixed market-data Hub and with the websocket/NATS
// wiring replaced by the event-subscription pipeline (transport, session,
// subscription, router, scheduler, ingress, capability, httpapi).
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"eventhub/internal/auth"
	"eventhub/internal/capability"
	"eventhub/internal/config"
	"eventhub/internal/hub"
	"eventhub/internal/httpapi"
	"eventhub/internal/ingress"
	"eventhub/internal/metrics"
	"eventhub/internal/model"
	"eventhub/internal/router"
	"eventhub/internal/scheduler"
	"eventhub/internal/session"
	"eventhub/internal/subscription"
	"eventhub/internal/transport"
)

const (
	serverName    = "eventhub"
	serverVersion = "1.0.0"

	reaperInterval = time.Second
)

// gcShim breaks the session.Manager <-> subscription.Manager construction
// cycle: session.Manager needs a SubscriptionGC at construction time, but
// the subscription.Manager that satisfies it isn't built until after the
// session.Manager it depends on already exists. RemoveAllForClient is never
// invoked before Server finishes wiring subs in (grace-period timers only
// fire well after Run starts), so the late bind is safe.
type gcShim struct {
	subs *subscription.Manager
}

func (g *gcShim) RemoveAllForClient(clientID string) {
	if g.subs != nil {
		g.subs.RemoveAllForClient(clientID)
	}
}

// schedulerHookShim breaks the analogous subscription.Manager <->
// scheduler.Scheduler cycle: the Manager needs a SchedulerHook at
// construction, but the Scheduler that implements it needs the Manager
// (as scheduler.ExpiryManager) first.
type schedulerHookShim struct {
	sched *scheduler.Scheduler
}

func (s *schedulerHookShim) Upsert(sub model.Subscription, buf *subscription.Buffer) {
	if s.sched != nil {
		s.sched.Upsert(sub, buf)
	}
}

func (s *schedulerHookShim) Remove(subID string) {
	if s.sched != nil {
		s.sched.Remove(subID)
	}
}

// Server owns every long-running goroutine the hub needs: the websocket
// transport, the cron scheduler, the expiration reaper, the NATS ingress
// (if configured), and the HTTP operational side-channel.
type Server struct {
	cfg    *config.Config
	logger *log.Logger

	metrics *metrics.Metrics
	clients *metrics.ClientTracker
	system  *metrics.SystemMetrics

	sessions *session.Manager
	subs     *subscription.Manager
	sched    *scheduler.Scheduler
	reaper   *subscription.Reaper
	router   *router.Router
	hub      *hub.Hub
	jwt      *auth.JWTManager

	ingressClient *ingress.Client

	wsServer   *http.Server
	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a fully wired Server from cfg. It does not start listening;
// call Run for that.
func New(cfg *config.Config) (*Server, error) {
	logger := log.New(os.Stdout, "[EVENTHUB] ", log.LstdFlags|log.Lshortfile)
	ctx, cancel := context.WithCancel(context.Background())

	m := metrics.New()
	clients := metrics.NewClientTracker()
	system := metrics.NewSystemMetrics()

	gc := &gcShim{}
	sessions := session.NewManager(gc, cfg.SessionGrace(), cfg.Transport.OutboundBufferSize, logger)

	notifier := hub.NewExpiryNotifier(sessions, m, logger)
	schedHook := &schedulerHookShim{}
	subs := subscription.NewManager(cfg.Hub.MaxActiveSubscriptionsPerClient, schedHook, notifier)
	gc.subs = subs

	sched := scheduler.New(subs, sessions, logger)
	sched.SetMetrics(m)
	schedHook.sched = sched

	reaper := subscription.NewReaper(subs, reaperInterval, logger)

	// No concrete model.EffectSink is wired yet: shell/webhook/agent effect
	// execution is an external collaborator per spec.md §1/§6, out of this
	// process's scope. Both the router and scheduler invoke it if one is
	// ever supplied (router.New's effects argument, Scheduler.SetEffects).
	rt := router.New(subs, sessions, m, nil, logger)

	caps := capability.New(cfg.Hub.MaxActiveSubscriptionsPerClient, cfg.Hub.ProtocolVersion)
	h := hub.New(sessions, subs, caps, clients, hub.ServerInfo{Name: serverName, Version: serverVersion}, logger)

	var jwtManager *auth.JWTManager
	if cfg.Auth.RequireAuth {
		jwtManager = auth.NewJWTManager(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenExpirationSec)*time.Second)
	}

	return &Server{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		clients:  clients,
		system:   system,
		sessions: sessions,
		subs:     subs,
		sched:    sched,
		reaper:   reaper,
		router:   rt,
		hub:      h,
		jwt:      jwtManager,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Run starts every background goroutine and both HTTP listeners, blocking
// until a listener fails or Shutdown cancels the server's context.
func (srv *Server) Run() error {
	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		srv.sched.Run(srv.ctx)
	}()

	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		srv.reaper.Run(srv.ctx)
	}()

	if srv.cfg.Ingress.URL != "" {
		ingressCfg := ingress.Config{
			URL:             srv.cfg.Ingress.URL,
			Subject:         srv.cfg.Ingress.Subject,
			MaxReconnects:   srv.cfg.Ingress.MaxReconnects,
			ReconnectWait:   srv.cfg.ReconnectWait(),
			ReconnectJitter: srv.cfg.ReconnectJitter(),
			MaxPingsOut:     srv.cfg.Ingress.MaxPingsOut,
			PingInterval:    srv.cfg.PingInterval(),
		}
		client, err := ingress.Connect(ingressCfg, srv.router, srv.metrics, srv.logger)
		if err != nil {
			srv.logger.Printf("server: ingress connection failed, continuing without it: %v", err)
		} else {
			srv.ingressClient = client
		}
	}

	var authenticator transport.Authenticator
	if srv.jwt != nil {
		authenticator = srv.jwt
	}
	wsTransport := transport.New(srv.sessions, srv.hub, srv.metrics, srv.logger, srv.cfg.Transport.MaxConnections, authenticator)

	wsMux := http.NewServeMux()
	wsMux.Handle(srv.cfg.Transport.Path, wsTransport)
	srv.wsServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", srv.cfg.Server.Host, srv.cfg.Server.Port),
		Handler:      wsMux,
		ReadTimeout:  srv.cfg.ReadTimeout(),
		WriteTimeout: srv.cfg.WriteTimeout(),
	}

	var tokens httpapi.TokenIssuer
	if srv.jwt != nil {
		tokens = srv.jwt
	}
	httpSrv := httpapi.New(srv.sessions, srv, srv.clients, srv.system, tokens)
	srv.httpServer = &http.Server{
		Addr:    srv.cfg.HTTPAPI.ListenAddr,
		Handler: httpSrv,
	}

	errCh := make(chan error, 2)

	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		srv.logger.Printf("server: websocket transport listening on %s%s", srv.wsServer.Addr, srv.cfg.Transport.Path)
		if err := srv.wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("websocket listener: %w", err)
		}
	}()

	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		srv.logger.Printf("server: http api listening on %s", srv.httpServer.Addr)
		if err := srv.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http api listener: %w", err)
		}
	}()

	select {
	case <-srv.ctx.Done():
		return nil
	case err := <-errCh:
		srv.cancel()
		return err
	}
}

// IsConnected satisfies internal/httpapi's IngressStatus, reporting false
// when no ingress producer is configured or it failed to connect.
func (srv *Server) IsConnected() bool {
	if srv.ingressClient == nil {
		return false
	}
	return srv.ingressClient.IsConnected()
}

// Shutdown gracefully stops every listener and background goroutine,
// waiting up to timeout for in-flight work to drain.
func (srv *Server) Shutdown(timeout time.Duration) {
	srv.logger.Printf("server: shutting down")
	srv.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if srv.wsServer != nil {
		if err := srv.wsServer.Shutdown(ctx); err != nil {
			srv.logger.Printf("server: websocket listener shutdown error: %v", err)
		}
	}
	if srv.httpServer != nil {
		if err := srv.httpServer.Shutdown(ctx); err != nil {
			srv.logger.Printf("server: http api listener shutdown error: %v", err)
		}
	}
	if srv.ingressClient != nil {
		srv.ingressClient.Close()
	}

	srv.wg.Wait()
	srv.logger.Printf("server: shutdown complete")
}
