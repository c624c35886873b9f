// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/rpc/v2"
	"github.com/luxfi/log"
	"github.com/luxfi/utils/json"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/luxfi/stable"
)

const (
	baseEndpoint   = "/ext/stable"
	eventsEndpoint = "/ext/stable/events"

	maxConcurrentStreams = 64
)

// HTTPConfig carries the HTTP server timeouts.
type HTTPConfig struct {
	ReadTimeout       time.Duration `json:"readTimeout"`
	ReadHeaderTimeout time.Duration `json:"readHeaderTimeout"`
	WriteTimeout      time.Duration `json:"writeTimeout"`
	IdleTimeout       time.Duration `json:"idleTimeout"`
}

// DefaultHTTPConfig returns conservative timeouts for the API server.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// Server serves the engine's JSON-RPC service and the event stream.
type Server struct {
	log             log.Logger
	srv             *http.Server
	listener        net.Listener
	shutdownTimeout time.Duration
}

// NewServer wires the RPC service and event stream onto one listener.
func NewServer(
	engine *stable.Engine,
	logger log.Logger,
	listener net.Listener,
	allowedOrigins []string,
	httpConfig HTTPConfig,
) (*Server, error) {
	if logger == nil {
		logger = log.NoLog{}
	}

	rpcServer := rpc.NewServer()
	codec := json.NewCodec()
	rpcServer.RegisterCodec(codec, "application/json")
	rpcServer.RegisterCodec(codec, "application/json;charset=UTF-8")
	rpcServer.RegisterInterceptFunc(engine.Metrics().InterceptRequest)
	rpcServer.RegisterAfterFunc(engine.Metrics().AfterRequest)
	if err := rpcServer.RegisterService(NewService(engine, logger), "stable"); err != nil {
		return nil, err
	}

	router := mux.NewRouter()
	router.Handle(baseEndpoint, rpcServer)
	router.Handle(eventsEndpoint, engine.EventServer())

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowCredentials: true,
	}).Handler(router)

	httpServer := &http.Server{
		Handler: h2c.NewHandler(
			corsHandler,
			&http2.Server{
				MaxConcurrentStreams: maxConcurrentStreams,
			}),
		ReadTimeout:       httpConfig.ReadTimeout,
		ReadHeaderTimeout: httpConfig.ReadHeaderTimeout,
		WriteTimeout:      httpConfig.WriteTimeout,
		IdleTimeout:       httpConfig.IdleTimeout,
	}

	logger.Info("API created with allowed origins: " + strings.Join(allowedOrigins, ","))

	return &Server{
		log:             logger,
		srv:             httpServer,
		listener:        listener,
		shutdownTimeout: 10 * time.Second,
	}, nil
}

// Dispatch serves until the listener closes or Shutdown is called.
func (s *Server) Dispatch() error {
	s.log.Info("API server listening", "address", s.listener.Addr())
	return s.srv.Serve(s.listener)
}

// Shutdown drains in-flight requests, then closes the server.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
