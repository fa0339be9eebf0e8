package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tokengate/api/internal/cache"
	"tokengate/api/internal/config"
	"tokengate/api/internal/middleware"
	"tokengate/api/internal/repository"
	"tokengate/api/internal/service"
)

type HandlerSet struct {
	log         zerolog.Logger
	cfg         *config.AppConfig
	authService *service.AuthService
	db          *pgxpool.Pool
	cache       *redis.Client
	users       *repository.UserRepository
	sessions    *repository.SessionRepository
}

func NewHandlerSet(log zerolog.Logger, db *pgxpool.Pool, redisClient *redis.Client, otp service.OTPVerifier, cfg *config.AppConfig) HandlerSet {
	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	challenges := cache.NewChallengeStore(redisClient)
	auth := service.NewAuthService(userRepo, sessionRepo, challenges, otp, cfg, log)

	return HandlerSet{
		log:         log,
		cfg:         cfg,
		authService: auth,
		db:          db,
		cache:       redisClient,
		users:       userRepo,
		sessions:    sessionRepo,
	}
}

// Sessions exposes the session repository for background jobs.
func (h HandlerSet) Sessions() *repository.SessionRepository {
	return h.sessions
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	limited := middleware.RateLimit(h.cfg.RateLimit, h.cache, h.log)

	v1 := router.Group("/v1")
	{
		auth := v1.Group("/auth")
		auth.POST("/register", limited, h.RegisterUser)
		auth.POST("/login", limited, h.Login)
		auth.POST("/refresh", limited, h.Refresh)
		auth.POST("/logout", h.Logout)

		protected := v1.Group("/auth")
		protected.Use(middleware.Auth(h.authService))
		protected.GET("/me", h.Me)
		protected.GET("/sessions", h.ListSessions)
		protected.DELETE("/sessions/:id", h.TerminateSession)
		protected.DELETE("/sessions", h.TerminateOtherSessions)
		protected.POST("/logout-all", h.LogoutAll)
	}
}
