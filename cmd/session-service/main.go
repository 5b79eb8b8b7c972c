package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	chatHandler "consultlink-backend/internal/handler/http/chat"
	pushHandler "consultlink-backend/internal/handler/http/push"
	sessionHandler "consultlink-backend/internal/handler/http/session"
	userHandler "consultlink-backend/internal/handler/http/user"
	walletHandler "consultlink-backend/internal/handler/http/wallet"
	wsHandler "consultlink-backend/internal/handler/ws"
	"consultlink-backend/internal/middleware"
	"consultlink-backend/internal/repository/cassandra"
	"consultlink-backend/internal/repository/cockroach"
	redisRepo "consultlink-backend/internal/repository/redis"
	chatService "consultlink-backend/internal/service/chat"
	sessionService "consultlink-backend/internal/service/session"
	userService "consultlink-backend/internal/service/user"
	walletService "consultlink-backend/internal/service/wallet"
	"consultlink-backend/pkg/config"
	"consultlink-backend/pkg/constants"
	"consultlink-backend/pkg/database"
	"consultlink-backend/pkg/email"
	"consultlink-backend/pkg/jwt"
	"consultlink-backend/pkg/logger"
	"consultlink-backend/pkg/metrics"
	"consultlink-backend/pkg/push"
)

func main() {
	ctx := context.Background()

	// 1. Configuration + logging
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: cfg.Server.ServiceName,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// 2. JWT manager
	if cfg.JWT.Secret == "" {
		logger.Fatal("JWT_SECRET is required")
	}
	jwtManager := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)

	// 3. CockroachDB (sessions, users/wallets)
	db, err := database.NewCockroachDB(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to CockroachDB", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Connected to CockroachDB", zap.String("database", cfg.Database.Database))

	sessionRepo := cockroach.NewSessionRepository(db.Pool)
	userRepo := cockroach.NewUserRepository(db.Pool)

	// 4. Cassandra (chat transcripts)
	cassandraDB, err := database.NewCassandraDB(&cfg.Cassandra)
	if err != nil {
		logger.Fatal("Failed to connect to Cassandra", zap.Error(err))
	}
	defer cassandraDB.Close()
	logger.Info("Connected to Cassandra", zap.String("keyspace", cfg.Cassandra.Keyspace))

	messageRepo := cassandra.NewMessageRepository(cassandraDB.Session)

	// 5. Redis (presence, push tokens, relay fan-out)
	redisDB, err := database.NewRedisDB(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisDB.Close()
	logger.Info("Connected to Redis")

	presenceRepo := redisRepo.NewPresenceRepository(redisDB.Client)
	pushTokenRepo := redisRepo.NewPushTokenRepository(redisDB.Client)

	// 6. Push notifications
	var pushProvider push.Provider
	switch cfg.Push.Provider {
	case "firebase":
		provider, err := push.NewFCMProvider(ctx, &push.FCMConfig{
			ProjectID:       cfg.Push.FirebaseProjectID,
			CredentialsPath: cfg.Push.CredentialsPath,
		})
		if err != nil {
			logger.Fatal("Failed to init FCM provider", zap.Error(err))
		}
		pushProvider = provider
		logger.Info("Using FCM push provider", zap.String("project_id", cfg.Push.FirebaseProjectID))
	default:
		pushProvider = &push.MockProvider{}
		logger.Info("Using mock push provider")
	}
	pushSvc := push.NewService(pushProvider, pushTokenRepo)

	// Email notifications ride the same session lifecycle events
	emailSvc := email.NewService(email.NewSMTPSender(
		cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From))

	// 7. Metrics
	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// 8. Services
	sessionSvc := sessionService.NewService(sessionRepo, userRepo, pushSvc, emailSvc, appMetrics)
	walletSvc := walletService.NewService(userRepo)
	chatSvc := chatService.NewService(messageRepo, appMetrics)
	userSvc := userService.NewService(userRepo)

	// 9. Relay hub
	relayHub := wsHandler.NewRelayHub(redisDB.Client, sessionSvc, chatSvc, presenceRepo,
		appMetrics, constants.DefaultMaxRelayConnections)

	// 10. Handlers
	sessionHdlr := sessionHandler.NewHandler(sessionSvc)
	walletHdlr := walletHandler.NewHandler(walletSvc)
	chatHdlr := chatHandler.NewHandler(chatSvc, sessionSvc)
	pushHdlr := pushHandler.NewHandler(pushSvc)
	userHdlr := userHandler.NewHandler(userSvc)

	// 11. Router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware())
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": cfg.Server.ServiceName,
		})
	})
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	v1 := router.Group("/v1")
	{
		sessions := v1.Group("/sessions")
		sessions.Use(middleware.AuthMiddleware(jwtManager))
		{
			sessions.POST("", sessionHdlr.Create)
			sessions.GET("", sessionHdlr.List)
			sessions.GET("/:id", sessionHdlr.Get)
			sessions.PATCH("/:id/status", sessionHdlr.UpdateStatus)
			sessions.POST("/:id/start-video", sessionHdlr.StartVideo)
			sessions.POST("/:id/complete", sessionHdlr.Complete)
			sessions.GET("/:id/messages", chatHdlr.GetHistory)
		}

		wallet := v1.Group("/wallet")
		wallet.Use(middleware.AuthMiddleware(jwtManager))
		{
			wallet.POST("/top-up", walletHdlr.TopUp)
			wallet.GET("/balance", walletHdlr.Balance)
		}

		pushGroup := v1.Group("/push")
		pushGroup.Use(middleware.AuthMiddleware(jwtManager))
		{
			pushGroup.POST("/tokens", pushHdlr.RegisterToken)
			pushGroup.DELETE("/tokens", pushHdlr.UnregisterToken)
		}

		users := v1.Group("")
		users.Use(middleware.AuthMiddleware(jwtManager))
		{
			users.GET("/users/me", userHdlr.GetMe)
			users.GET("/consultants", userHdlr.ListConsultants)
		}

		// WebSocket handshake carries the token in the query string
		ws := v1.Group("/ws")
		ws.Use(middleware.WSAuthMiddleware(jwtManager))
		{
			ws.GET("/sessions/:session_id", relayHub.ServeWS)
		}
	}

	// 12. Serve with graceful shutdown
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Session service starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("env", cfg.Server.Environment))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	logger.Info("Server exited")
}
