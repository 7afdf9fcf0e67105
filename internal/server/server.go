package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/ingest/backend/internal/app"
	"github.com/OFFIS-RIT/ingest/backend/internal/queue"
	mid "github.com/OFFIS-RIT/ingest/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/ingest/backend/internal/util"
	"github.com/OFFIS-RIT/ingest/backend/pkg/logger"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// New returns an echo instance serving the API of a.
func New(a *mid.App, bodyLimit string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(a))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	if bodyLimit != "" {
		e.Use(middleware.BodyLimit(bodyLimit))
	}

	RegisterRoutes(e)
	return e
}

func Init() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := app.Build(ctx, app.OptionsFromEnv())
	if err != nil {
		logger.Fatal("Failed to build engine", "err", err)
	}
	defer engine.Close()

	a := &mid.App{
		Engine:         engine,
		MasterAPIKey:   util.GetEnv("MASTER_API_KEY"),
		MasterUserID:   util.GetEnv("MASTER_USER_ID"),
		MasterUserRole: util.GetEnv("MASTER_USER_ROLE"),
		AllowAnonymous: util.GetEnvBool("ALLOW_ANONYMOUS", false),
	}
	if engine.Bucket != nil {
		a.Links = engine.Bucket
	}

	if authURL := util.GetEnv("AUTH_URL"); authURL != "" {
		k, err := keyfunc.NewDefault([]string{authURL + "/jwks"})
		if err != nil {
			logger.Fatal("Failed to load jwks keys", "err", err)
		}
		a.Keyfunc = k.Keyfunc
	} else {
		logger.Warn("AUTH_URL not set, only the master API key and anonymous access are accepted")
	}

	var inline *InlineQueue
	if util.GetEnv("RABBITMQ_HOST") != "" {
		conn, err := queue.Dial(queue.ConfigFromEnv())
		if err != nil {
			logger.Fatal("Failed to connect to rabbitmq", "err", err)
		}
		defer conn.Close()
		ch, err := conn.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
		}
		defer ch.Close()
		if err := queue.Setup(ch, queue.ProcessQueue); err != nil {
			logger.Fatal("Failed to declare queues", "err", err)
		}
		a.Queue = queue.NewProducer(ch)
	} else {
		logger.Warn("RABBITMQ_HOST not set, processing files in the server process")
		inline = NewInlineQueue(engine.Processor, util.GetEnvInt("WORKER_CONCURRENCY", 2), util.GetEnvInt("INLINE_QUEUE_BACKLOG", 64))
		a.Queue = inline
	}

	e := New(a, util.GetEnvString("BODY_LIMIT", "1G"))

	go func() {
		port := util.GetEnvString("PORT", "8080")
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
	if inline != nil {
		inline.Close()
	}
}
