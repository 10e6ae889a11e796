package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/IBM/sarama"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/config"
	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/handlers"
	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/kafka"
	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/limiter"
	custommiddleware "github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/middleware"
	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/models"
	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/realtime"
	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/redis"
	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/services"
)

type Server struct {
	Echo                 *echo.Echo
	Config               *config.Config
	Sessions             *services.SessionManager
	ConversationHandler  *handlers.ConversationHandler
	SessionHandler       *handlers.SessionHandler
	ChatWebSocketHandler *handlers.ChatWebSocketHandler

	redis    *redis.RedisClient
	archiver *services.Archiver
	producer *kafka.Producer
	consumer *kafka.Consumer
}

// HubOptions converts the hub section of the config.
func HubOptions(cfg config.HubConfig) realtime.Options {
	delays := make([]time.Duration, 0, len(cfg.ReconnectDelaysMs))
	for _, ms := range cfg.ReconnectDelaysMs {
		delays = append(delays, time.Duration(ms)*time.Millisecond)
	}
	return realtime.Options{
		URL:             cfg.URL,
		ReconnectDelays: delays,
		KeepAlive:       time.Duration(cfg.KeepAliveSeconds) * time.Second,
		ServerTimeout:   time.Duration(cfg.ServerTimeoutSeconds) * time.Second,
	}
}

// NewServer wires the control API. Redis, the database and kafka are optional
// and only used when configured.
func NewServer(cfg config.Config) (*Server, error) {
	log.SetLevel(cfg.Log.LogLevel())

	timeout := time.Duration(cfg.API.TimeoutSeconds) * time.Second
	backends, err := services.APIBackends(cfg.API.BaseURL, timeout)
	if err != nil {
		return nil, err
	}

	s := &Server{Config: &cfg}
	opts := services.SessionOptions{
		PageSize: cfg.Chat.PageSize,
		Timeout:  timeout,
		DemoMode: cfg.Chat.DemoMode,
		Connect:  services.RealtimeConnections(HubOptions(cfg.Hub)),
	}

	var apiLimiter *limiter.Manager
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewRedisClient(cfg.Redis)
		if err != nil {
			return nil, err
		}
		s.redis = rdb
		window := time.Duration(cfg.Chat.SendWindowSeconds) * time.Second
		if cfg.Chat.SendLimit > 0 {
			opts.Limiter = limiter.NewManager(rdb.Client, limiter.SendPrefix, limiter.StrategyByName(cfg.Chat.SendStrategy), cfg.Chat.SendLimit, window)
		}
		if cfg.Server.RateLimit > 0 {
			apiLimiter = limiter.NewManager(rdb.Client, limiter.APIPrefix, &limiter.FixedWindowStrategy{}, cfg.Server.RateLimit,
				time.Duration(cfg.Server.RateWindowSeconds)*time.Second)
		}
	}

	var transcripts handlers.Transcripts
	if cfg.Database.DSN != "" {
		db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{})
		if err != nil {
			s.Close()
			return nil, err
		}
		if err := models.AutoMigrateAll(db); err != nil {
			s.Close()
			return nil, err
		}
		s.archiver = services.NewArchiver(db)
		opts.Sinks = append(opts.Sinks, s.archiver)
		transcripts = s.archiver
	}

	var sc *sarama.Config
	if len(cfg.Kafka.Brokers) > 0 {
		if sc, err = kafka.NewSaramaConfig(cfg.Kafka); err != nil {
			s.Close()
			return nil, err
		}
		if s.producer, err = kafka.NewProducer(cfg.Kafka.Brokers, sc, cfg.Kafka.MessageTopic); err != nil {
			s.Close()
			return nil, err
		}
		opts.Sinks = append(opts.Sinks, s.producer)
	}
	s.Sessions = services.NewSessionManager(backends, opts)
	if sc != nil && cfg.Chat.LiveTicketUpdates {
		s.consumer, err = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID,
			[]string{cfg.Kafka.TicketTopic}, sc, kafka.NewTicketStatusHandler(s.Sessions))
		if err != nil {
			s.Close()
			return nil, err
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.Logger.SetLevel(cfg.Log.LogLevel())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.Server.AllowOrigins,
		AllowMethods:     []string{echo.GET, echo.POST, echo.PUT, echo.DELETE, echo.PATCH},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowCredentials: true,
		ExposeHeaders:    []string{echo.HeaderContentLength},
		MaxAge:           86400,
	}))
	s.Echo = e
	s.ConversationHandler = handlers.NewConversationHandler(s.Sessions)
	s.SessionHandler = handlers.NewSessionHandler(s.Sessions, transcripts)
	s.ChatWebSocketHandler = handlers.NewChatWebSocketHandler(s.Sessions, cfg.Server.AllowOrigins)

	authMiddleware := custommiddleware.AuthMiddleware(services.NewAuthService(nil))
	var rateLimit echo.MiddlewareFunc
	if apiLimiter != nil {
		rateLimit = custommiddleware.NewRateLimitMiddleware(apiLimiter, custommiddleware.RateLimitConfig{
			KeyFunc: custommiddleware.UserKey,
		})
	}
	s.SetupRoutes(authMiddleware, rateLimit)
	return s, nil
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if s.consumer != nil {
		go func() {
			if err := s.consumer.Start(ctx); err != nil {
				log.Errorf("ticket status consumer stopped: %v", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Echo.Start(s.Config.Server.Addr)
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.Echo.Shutdown(shutdownCtx)
	s.Close()
	return err
}

// Close releases sessions and every optional backend.
func (s *Server) Close() {
	if s.Sessions != nil {
		s.Sessions.CloseAll()
	}
	if s.consumer != nil {
		if err := s.consumer.Close(); err != nil {
			log.Warnf("closing kafka consumer: %v", err)
		}
	}
	if s.producer != nil {
		if err := s.producer.Close(); err != nil {
			log.Warnf("closing kafka producer: %v", err)
		}
	}
	if s.archiver != nil {
		s.archiver.Close()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			log.Warnf("closing redis: %v", err)
		}
	}
}
