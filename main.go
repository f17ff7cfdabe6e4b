package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-chat/roomsync/chat"
	"go-chat/roomsync/config"
	"go-chat/roomsync/database"
	"go-chat/roomsync/handlers"
	"go-chat/roomsync/middleware"
	"go-chat/roomsync/notify"
	"go-chat/roomsync/websocket"

	"github.com/rs/cors" // 引入 CORS 庫
)

// newNotifier 依設定選擇變更通知的後端；多個實例共用同一個資料庫時需要 redis 或 nats
func newNotifier(ctx context.Context, cfg *config.Config, logger *slog.Logger) (notify.Notifier, error) {
	switch cfg.Notifier {
	case config.NotifierRedis:
		return notify.NewRedisNotifier(ctx, cfg.RedisAddr, cfg.RedisPassword, "roomsync:", logger)
	case config.NotifierNATS:
		return notify.NewNATSNotifier(cfg.NATSURL, "roomsync", logger)
	default:
		return notify.NewLocal(), nil
	}
}

func run() error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	db, err := database.ConnectMongoDB(ctx, cfg.MongoDBURI, cfg.DBName, logger)
	cancel()
	if err != nil {
		return err
	}
	defer db.Disconnect()

	notifier, err := newNotifier(context.Background(), cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start %s notifier: %w", cfg.Notifier, err)
	}
	defer notifier.Close()

	users := database.NewUserRepository(db)
	st := database.NewMongoStore(db, notifier, chat.Partitions(), logger)
	svc := chat.NewService(st, users, chat.Options{
		LeavePolicy:  chat.LeavePolicy(cfg.RoomDeleteThreshold),
		HistoryLimit: cfg.HistoryLimit,
		Logger:       logger,
	})

	limiter := middleware.NewSendLimiter(cfg.SendRatePerSec, cfg.SendBurst)
	ws := websocket.NewServer(svc, limiter, cfg.AllowedOrigins, logger)
	router := handlers.Router{
		Auth:      handlers.NewAuthHandler(users, cfg.JWTSecret, logger),
		Chat:      handlers.NewChatHandler(svc, logger),
		WS:        ws,
		Limiter:   limiter,
		JWTSecret: cfg.JWTSecret,
		Logger:    logger,
	}.Build()

	// 設置 CORS 中介軟體
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	serverAddr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      c.Handler(router),
		IdleTimeout:  120 * time.Second,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	sweepDone := make(chan struct{})
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if n := limiter.Sweep(); n > 0 {
					logger.Debug("idle rate limiters removed", "count", n)
				}
			case <-sweepDone:
				return
			}
		}
	}()
	defer close(sweepDone)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", serverAddr, "notifier", cfg.Notifier, "leave_policy", chat.LeavePolicy(cfg.RoomDeleteThreshold).String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("could not listen on %s: %w", serverAddr, err)
		}
	}()

	//當按下 Ctrl+C，程式會收到 SIGINT
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info("shutting down server", "signal", sig.String())
	case err := <-errCh:
		return err
	}

	// WebSocket 連線已被接管，Shutdown 不會等它們，需要另外關閉
	ws.Shutdown()

	//最多等30秒關閉，避免資料損壞，請求中斷
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server exited gracefully")
	return nil
}

func main() {
	if err := run(); err != nil {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
