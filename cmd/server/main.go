package main

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Voice/internal/call"
	"github.com/dkeye/Voice/internal/caption"
	"github.com/dkeye/Voice/internal/config"
	"github.com/dkeye/Voice/internal/handlers"
	"github.com/dkeye/Voice/internal/httpapi"
	"github.com/dkeye/Voice/internal/repository"
	"github.com/dkeye/Voice/internal/router"
	"github.com/dkeye/Voice/internal/session"
	"github.com/dkeye/Voice/internal/token"
	"github.com/dkeye/Voice/internal/transport"
	"github.com/dkeye/Voice/internal/wire"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	privKey, err := loadRSAPrivateKey(cfg.JWTPrivateKeyFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load jwt signing key")
	}

	repo := repository.NewInMemory()
	tokens := token.NewService(privKey, repo, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	registry := session.NewRegistry()

	mediaFactory := caption.NewFactory(repo, registry)
	coordinator := call.NewCoordinator(registry, repo, mediaFactory, cfg.InviteTimeout)
	mediaFactory.Persist = coordinator

	h := handlers.New(repo, tokens)
	r := router.New(tokens)
	wireHandlers(r, h, coordinator)

	deps := httpapi.Deps{
		Router:   r,
		Registry: registry,
		Calls:    coordinator,
		Conn: transport.Config{
			HandshakeBudget: cfg.HandshakeTimeout,
			PingPeriod:      cfg.HeartbeatPingPeriod,
			PongTimeout:     cfg.HeartbeatPongTimeout,
		},
	}
	engine := httpapi.SetupRouter(ctx, cfg, deps)
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: engine,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Voice server started")
		var err error
		if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
			srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			err = srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited gracefully")
}

func loadRSAPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	rsaKey, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key in %s is not an RSA key", path)
	}
	return rsaKey, nil
}

// wireHandlers registers every msg_type named in spec §6 against either
// an internal/handlers method or a CallCoordinator operation.
func wireHandlers(r *router.Router, h *handlers.Handlers, coordinator *call.Coordinator) {
	r.Handle(wire.MsgSignup, h.Signup)
	r.Handle(wire.MsgAuthenticate, h.Authenticate)
	r.Handle(wire.MsgRefreshToken, h.RefreshToken)
	r.Handle(wire.MsgLogout, h.Logout)
	r.Handle(wire.MsgGetContacts, h.GetContacts)
	r.Handle(wire.MsgAddContact, h.AddContact)
	r.Handle(wire.MsgFetchCallHistory, h.FetchCallHistory)
	r.Handle(wire.MsgSetModelPreference, h.SetModelPreference)

	r.Handle(wire.MsgCallInvite, callInviteHandler(coordinator))
	r.Handle(wire.MsgCallAccept, callAcceptHandler(coordinator))
	r.Handle(wire.MsgCallReject, callRejectHandler(coordinator))
	r.Handle(wire.MsgCallEnd, callEndHandler(coordinator))
	r.Handle(wire.MsgOffer, relayHandler(coordinator, wire.MsgOffer))
	r.Handle(wire.MsgAnswer, relayHandler(coordinator, wire.MsgAnswer))
	r.Handle(wire.MsgICECandidate, relayHandler(coordinator, wire.MsgICECandidate))
	r.Handle(wire.MsgVideoState, relayHandler(coordinator, wire.MsgVideoState))

	// ping/pong/handshake/lip_reading_prediction/session_replaced carry no
	// client-invoked handler: ping is sent by the heartbeat layer and the
	// client's pong is consumed by the connection's read loop before
	// routing, handshake is handled by ConnectionLifecycle before the
	// router ever sees a frame, and lip_reading_prediction/session_replaced
	// are server-to-client only.
}
