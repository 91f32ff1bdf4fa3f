package server

import (
	"context"
	"embed"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/RyanBlaney/sonido-key/logging"
)

//go:embed static
var staticFS embed.FS

// Options configures the HTTP listener
type Options struct {
	Addr      string
	MaxUpload string // echo body limit syntax, e.g. "64M"
}

// Server is the key finder HTTP front end
type Server struct {
	echo    *echo.Echo
	addr    string
	handler *Handler
	logger  logging.Logger
}

// New wires the middleware and routes around handler
func New(opts Options, handler *Handler) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		addr:    opts.Addr,
		handler: handler,
		logger: logging.WithFields(logging.Fields{
			"component": "http",
		}),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"*"},
	}))
	if opts.MaxUpload != "" {
		e.Use(middleware.BodyLimit(opts.MaxUpload))
	}
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Info("Request", logging.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency_ms": v.Latency.Milliseconds(),
				"request_id": v.RequestID,
			})
			return nil
		},
	}))

	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/", s.handler.Index)
	s.echo.StaticFS("/static", echo.MustSubFS(staticFS, "static"))
	s.echo.GET("/healthz", s.handler.Health)

	s.echo.POST("/", s.handler.Analyze)
	s.echo.POST("/chromagram", s.handler.Chromagram)
	s.echo.POST("/objects/:name", s.handler.AnalyzeObject)
}

// Start listens until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("Listening", logging.Fields{"addr": s.addr})
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
