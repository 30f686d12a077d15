package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/artisthub/platform/backend/admin-service/handlers"
	"github.com/artisthub/platform/backend/admin-service/internal/audit"
	"github.com/artisthub/platform/backend/admin-service/internal/config"
	"github.com/artisthub/platform/backend/admin-service/internal/database"
	"github.com/artisthub/platform/backend/admin-service/internal/events"
	"github.com/artisthub/platform/backend/admin-service/internal/models"
	"github.com/artisthub/platform/backend/admin-service/internal/oidc"
	"github.com/artisthub/platform/backend/admin-service/internal/sessions"
	"github.com/artisthub/platform/backend/admin-service/internal/storage"
	"github.com/artisthub/platform/backend/admin-service/internal/tokens"
	"github.com/artisthub/platform/backend/admin-service/internal/users"
	"github.com/artisthub/platform/backend/admin-service/pkg/logger"
	"github.com/artisthub/platform/backend/admin-service/pkg/metrics"
	"github.com/artisthub/platform/backend/admin-service/pkg/middleware"
	"github.com/artisthub/platform/backend/admin-service/pkg/mq"
)

var startTime = time.Now()

// stores holds the open backing connections so they can be closed on shutdown.
type stores struct {
	mongo *mongo.Client
	pg    *pgxpool.Pool
	redis *redis.Client
	mq    *mq.Publisher
}

func (s *stores) close(ctx context.Context) {
	if s.mq != nil {
		_ = s.mq.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.pg != nil {
		s.pg.Close()
	}
	if s.mongo != nil {
		_ = s.mongo.Disconnect(ctx)
	}
}

func connectRedis(ctx context.Context, cfg config.RedisConfig) *redis.Client {
	if cfg.Host == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Host + ":" + cfg.Port, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warnf("failed to connect to Redis (%s:%s): %v", cfg.Host, cfg.Port, err)
		_ = client.Close()
		return nil
	}
	logger.Infof("connected to Redis %s:%s", cfg.Host, cfg.Port)
	return client
}

// openUserStore returns the user repository for the configured driver.
func openUserStore(ctx context.Context, cfg *config.Config, st *stores) (users.Repository, error) {
	switch cfg.Store.Driver {
	case "mongo":
		client, err := database.ConnectMongoWithRetry(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout, 5)
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		st.mongo = client
		return users.NewMongoRepository(ctx, client.Database(cfg.MongoDB.Database))
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		st.pg = pool
		repo := users.NewPostgresRepository(pool)
		if err := repo.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate users table: %w", err)
		}
		return repo, nil
	default:
		logger.Warn("using in-memory user store; data is lost on restart")
		return users.NewMemoryRepository(), nil
	}
}

func openAudit(ctx context.Context, cfg *config.Config, st *stores) *audit.Service {
	if st.mongo != nil {
		repo, err := audit.NewMongoRepository(ctx, st.mongo.Database(cfg.MongoDB.Database).Collection("admin_audit"))
		if err == nil {
			return audit.NewService(repo)
		}
		logger.Warnf("audit collection unavailable, keeping entries in memory: %v", err)
	}
	return audit.NewService(audit.NewMemoryRepository())
}

// openSessions prefers Redis, then MongoDB, then process memory.
func openSessions(cfg *config.Config, st *stores) *sessions.Service {
	if st.redis != nil {
		logger.Infof("using Redis for session storage")
		return sessions.NewService(sessions.NewRedisRepository(st.redis, "session:"))
	}
	if st.mongo != nil {
		return sessions.NewService(sessions.NewMongoRepository(st.mongo.Database(cfg.MongoDB.Database).Collection("sessions")))
	}
	logger.Warn("no Redis or MongoDB configured; sessions are kept in memory")
	return sessions.NewService(sessions.NewMemoryRepository())
}

func openPublisher(cfg config.RabbitMQConfig, st *stores) events.Publisher {
	if cfg.URL == "" {
		return events.LogPublisher{}
	}
	pub, err := mq.NewPublisher(cfg.URL, cfg.Exchange)
	if err != nil {
		logger.Warnf("RabbitMQ unavailable, events go to the log: %v", err)
		return events.LogPublisher{}
	}
	st.mq = pub
	logger.Infof("publishing admin events to exchange %s", cfg.Exchange)
	return events.NewBrokerPublisher(pub)
}

func openArchiver(ctx context.Context, cfg config.MinIOConfig, auditSvc *audit.Service) *audit.Archiver {
	if cfg.Endpoint == "" {
		return nil
	}
	store, err := storage.NewMinIOStorage(ctx, cfg)
	if err != nil {
		logger.Warnf("audit archive disabled: %v", err)
		return nil
	}
	return audit.NewArchiver(auditSvc, store)
}

func main() {
	// LOG_LEVEL: debug|info|warn|error|fatal
	logger.Init(os.Getenv("LOG_LEVEL"))
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: store=%s keycloak=%v redis=%v minio=%v rabbitmq=%v",
		cfg.Store.Driver, cfg.Keycloak.URL != "", cfg.Redis.Host != "", cfg.MinIO.Endpoint != "", cfg.RabbitMQ.URL != "")

	ctx := context.Background()
	st := &stores{}
	st.redis = connectRedis(ctx, cfg.Redis)
	if st.redis != nil {
		sessions.SetBlacklistClient(st.redis)
	}

	userRepo, err := openUserStore(ctx, cfg, st)
	if err != nil {
		logger.Fatalf("user store: %v", err)
	}
	auditSvc := openAudit(ctx, cfg, st)
	sessionsSvc := openSessions(cfg, st)
	publisher := openPublisher(cfg.RabbitMQ, st)
	archiver := openArchiver(ctx, cfg.MinIO, auditSvc)

	userSvc := users.NewService(userRepo,
		users.WithAudit(auditSvc),
		users.WithEvents(publisher),
		users.WithSessions(sessionsSvc),
		users.WithLimits(users.Limits{
			DefaultPageSize: cfg.Admin.PageSize,
			MaxPageSize:     cfg.Admin.MaxPageSize,
			MaxGrantDays:    cfg.Admin.MaxGrantDays,
		}),
		users.WithBootstrapAdmin(cfg.Admin.BootstrapEmail),
	)

	// Keycloak verifies ID tokens at login; requests carry our own HS256 tokens.
	var idVerifier middleware.Verifier
	allowInsecure := strings.EqualFold(strings.TrimSpace(os.Getenv("ALLOW_INSECURE_TOKEN")), "true")
	if cfg.Keycloak.URL != "" && cfg.Keycloak.Realm != "" {
		idVerifier, err = oidc.NewLoginVerifier(ctx, oidc.IssuerURL(cfg.Keycloak.URL, cfg.Keycloak.Realm), cfg.Keycloak.ClientID, allowInsecure)
		if err != nil {
			logger.Warnf("login disabled: %v", err)
		}
	}

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.Recovery(logger.L()), middleware.RequestLogger(logger.L()), middleware.CORS(cfg.CORS.ClientURL))
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && st.redis != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			r.Use(middleware.RedisRateLimitMiddleware(st.redis, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			r.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})
	r.GET("/ready", func(c *gin.Context) {
		rctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		deps := map[string]bool{"users": true, "oidc": cfg.Keycloak.URL == "" || idVerifier != nil}
		if st.mongo != nil {
			deps["mongo"] = st.mongo.Ping(rctx, nil) == nil
		}
		if st.pg != nil {
			deps["postgres"] = st.pg.Ping(rctx) == nil
		}
		if st.redis != nil {
			deps["redis"] = st.redis.Ping(rctx).Err() == nil
		}
		status, code := "ready", http.StatusOK
		for _, ok := range deps {
			if !ok {
				status, code = "not_ready", http.StatusServiceUnavailable
			}
		}
		c.JSON(code, gin.H{"status": status, "deps": deps, "uptime": time.Since(startTime).String()})
	})

	authn := middleware.Authenticate(middleware.AuthConfig{
		Verifier:   tokens.NewHMACVerifier(cfg.JWT.Secret),
		Sessions:   sessionsSvc,
		Users:      userSvc,
		CookieName: cfg.Session.CookieName,
	})
	handlers.NewAuthHandler(cfg, userSvc, sessionsSvc, idVerifier).Register(r.Group("/api"), authn)
	admin := r.Group("/api/admin", authn, middleware.RequireRole(models.RoleAdmin))
	handlers.NewAdminHandler(userSvc, auditSvc, archiver).Register(admin)
	handlers.RegisterSwagger(r)

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down admin service")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("server shutdown: %v", err)
		}
	}()

	logger.Infof("starting admin service on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("server failed: %v", err)
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st.close(closeCtx)
	logger.Info("admin service stopped")
}
