package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/caarlos0/env/v6"
	"go.uber.org/zap"

	"github.com/mahaj/community-chat/pkg/auth"
	"github.com/mahaj/community-chat/pkg/chat"
	"github.com/mahaj/community-chat/pkg/db"
	"github.com/mahaj/community-chat/pkg/hub"
	"github.com/mahaj/community-chat/pkg/presence"
	"github.com/mahaj/community-chat/pkg/snowflake"
	"github.com/mahaj/community-chat/pkg/store"
	"github.com/mahaj/community-chat/pkg/typing"
)

// fanout combines the hub with the trackers that need to forget a room
// when it is deleted, so the chat service sees one Publisher.
type fanout struct {
	*hub.Hub
	typing   *typing.Tracker
	presence *presence.Store
}

func (f *fanout) DropRoom(roomID string) {
	f.Hub.DropRoom(roomID)
	f.typing.ForgetRoom(roomID)
	if f.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		f.presence.DropRoom(ctx, roomID)
	}
}

func (f *fanout) DropMember(roomID, userID string) {
	f.Hub.DropMember(roomID, userID)
	if f.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		f.presence.Leave(ctx, roomID, userID)
	}
}

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("zap.NewDevelopment: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	cfg := EnvConfig{}
	if err := env.Parse(&cfg); err != nil {
		sugar.Fatalf("cannot parse env config: %v", err)
	}

	ids, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		sugar.Fatalf("snowflake node: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		messages   store.MessageStore
		membership store.MembershipStore
		online     *presence.Store
	)

	if cfg.MemoryStores {
		sugar.Info("running with in-memory stores")
		messages = store.NewMemoryMessages()
		membership = store.NewMemoryMembership()
	} else {
		session, err := db.NewSession(cfg.ScyllaHosts, cfg.ScyllaKeyspace)
		if err != nil {
			sugar.Fatalf("connect to Scylla: %v", err)
		}
		defer session.Close()
		messages = store.NewScyllaMessages(sugar, session)

		pg, err := store.NewPostgresMembership(ctx, sugar, cfg.Postgres)
		if err != nil {
			sugar.Fatalf("connect to Postgres: %v", err)
		}
		defer pg.Close()
		membership = pg

		online = presence.New(sugar, cfg.RedisAddr)
		defer online.Close()
	}

	var hubOpts []hub.Option
	if len(cfg.KafkaBrokers) > 0 {
		sugar.Infof("cross-node fanout bridge enabled on topic %s", cfg.KafkaTopic)
		bridge := hub.NewBridge(sugar, cfg.KafkaBrokers, cfg.KafkaTopic)
		defer bridge.Close()
		hubOpts = append(hubOpts, hub.WithBridge(bridge))
	}

	h := hub.New(sugar, hubOpts...)
	go func() {
		if err := h.Run(ctx); err != nil {
			sugar.Errorf("fanout bridge consumer stopped: %v", err)
		}
	}()

	tracker := typing.New(sugar, h)
	go tracker.Run(ctx)

	svc := chat.NewService(sugar, membership, messages, &fanout{Hub: h, typing: tracker, presence: online}, ids)

	jwt := auth.NewJWT([]byte(cfg.JWTSecret), 24*time.Hour)

	handlers := &handler{
		logger:   sugar,
		svc:      svc,
		hub:      h,
		typing:   tracker,
		presence: online,
		resolver: jwt,
		tokens:   jwt,
	}

	httpServer := &http.Server{
		Addr:        cfg.Host + ":" + strconv.FormatUint(uint64(cfg.Port), 10),
		Handler:     logRequests(sugar, handlers.routes()),
		ReadTimeout: 15 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		<-sigint

		sugar.Info("shutting down HTTP server")
		if err := httpServer.Shutdown(context.Background()); err != nil {
			sugar.Errorf("server shutdown: %v", err)
		}
		cancel()
		close(idleConnsClosed)
	}()

	sugar.Infof("server starting on %s", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		sugar.Fatalf("listen: %v", err)
	}
	<-idleConnsClosed
	sugar.Info("server stopped")
}
