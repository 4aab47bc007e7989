/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package app wires the HTTP router, its middleware and the injected
// resources on top of a database handle, and runs the startup sequence:
// schema sync, then bind, then serve.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/tomoncle/userhub/config"
	"github.com/tomoncle/userhub/database"
	"github.com/tomoncle/userhub/utils"
)

// ErrAlreadyStarted is reported by a Start call on an App that was already
// started.
var ErrAlreadyStarted = errors.New("app already started")

// ErrShutdown is reported by a startup that was overtaken by Shutdown.
var ErrShutdown = errors.New("app shut down")

// Resource is a router collaborator mounted by the App. The App only knows
// its path prefix and the models whose tables must exist before serving.
type Resource interface {
	Prefix() string
	Models() []database.SQLModel
	Mount(router *mux.Router)
}

type App struct {
	cfg      config.ServerConfig
	db       database.AbstractDatabaseManager
	logger   *logrus.Logger
	router   *mux.Router
	handler  http.Handler
	registry database.ModelRegistry
	srv      *http.Server
	serveErr chan error

	mu       sync.Mutex
	started  bool
	closing  bool
	listener net.Listener
}

// New builds an App serving resources over db. A nil logger means the
// "APP" logger from the registry.
func New(cfg config.ServerConfig, db database.AbstractDatabaseManager, logger *logrus.Logger, resources ...Resource) *App {
	if logger == nil {
		logger = utils.NewLogger("APP")
	}

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		utils.RespondWithError(w, http.StatusNotFound, "not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	a := &App{
		cfg:      cfg,
		db:       db,
		logger:   logger,
		router:   router,
		registry: database.NewModelRegistry(),
		serveErr: make(chan error, 1),
	}

	router.HandleFunc("/healthz", a.healthz).Methods(http.MethodGet)
	for _, res := range resources {
		a.registry.Register(res.Models()...)
		res.Mount(router)
		logger.Debugf("mounted resource at %s", res.Prefix())
	}

	a.handler = chain(router,
		handlers.ProxyHeaders,
		requestID,
		accessLog(logger),
		handlers.RecoveryHandler(handlers.RecoveryLogger(logger)),
		jsonBody(MaxJSONBodySize),
	)
	a.srv = &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return a
}

// Handler returns the fully wrapped router, for in-process use.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Start runs the startup sequence in the background and returns its
// handle. The schema is synchronized destructively before the socket is
// bound, so a sync failure leaves the port untouched.
func (a *App) Start(ctx context.Context) *Startup {
	s := newStartup()

	a.mu.Lock()
	if a.closing {
		a.mu.Unlock()
		s.resolve(nil, ErrShutdown)
		return s
	}
	if a.started {
		a.mu.Unlock()
		s.resolve(nil, ErrAlreadyStarted)
		return s
	}
	a.started = true
	a.mu.Unlock()

	go a.start(ctx, s)
	return s
}

func (a *App) start(ctx context.Context, s *Startup) {
	if err := a.db.SyncSchema(ctx, a.registry, database.SyncOptions{Force: true}); err != nil {
		a.logger.WithError(err).Error("startup aborted")
		if a.isClosing() {
			err = fmt.Errorf("%w: %v", ErrShutdown, err)
		}
		s.resolve(nil, fmt.Errorf("failed to sync schema: %w", err))
		return
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", a.cfg.Addr())
	if err != nil {
		a.logger.WithError(err).Error("startup aborted")
		s.resolve(nil, fmt.Errorf("failed to listen on %s: %w", a.cfg.Addr(), err))
		return
	}

	// Holding mu until resolved orders this against Shutdown: either
	// Shutdown sees the serving listener, or startup sees closing.
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closing {
		_ = ln.Close()
		s.resolve(nil, ErrShutdown)
		return
	}
	a.listener = ln

	go func() {
		if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.WithError(err).Error("server stopped")
			a.serveErr <- err
		}
		close(a.serveErr)
	}()

	a.logger.Infof("server listening on http://%s", ln.Addr())
	s.resolve(ln.Addr(), nil)
}

func (a *App) isClosing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closing
}

// Errors yields the error that stopped the server, if any, and is closed
// once serving ends.
func (a *App) Errors() <-chan error {
	return a.serveErr
}

// Addr returns the bound address, or nil before a successful start.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Shutdown stops accepting connections, waits for in-flight requests until
// ctx expires, then closes the database.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	a.closing = true
	a.mu.Unlock()

	var errs []error
	if err := a.srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shut down server: %w", err))
	}
	if err := a.db.Disconnect(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close database: %w", err))
	}
	return errors.Join(errs...)
}

func (a *App) healthz(w http.ResponseWriter, r *http.Request) {
	status := a.db.HealthCheck(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	utils.RespondWithJSON(w, code, status)
}
