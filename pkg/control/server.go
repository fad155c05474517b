package control

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/core-tools/hsu-iiswatch/pkg/errors"
	"github.com/core-tools/hsu-iiswatch/pkg/logging"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// NewEcho creates the echo instance with error handling and panic recovery
func NewEcho(logger logging.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = HTTPErrorHandler(logger)

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			logger.Errorf("Panic recovered, path: %s, error: %v, stack: %s", c.Path(), err, stack)
			return nil
		},
	}))
	return e
}

// Server is the control API HTTP server
type Server struct {
	echo     *echo.Echo
	listener net.Listener
	logger   logging.Logger
}

func NewServer(listen string, e *echo.Echo, logger logging.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, errors.NewNetworkError("failed to listen", err).WithContext("listen", listen)
	}

	// echo.Shutdown stops e.Server, so that is the server we run
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 30 * time.Second
	e.Server.IdleTimeout = 60 * time.Second
	e.Listener = listener

	return &Server{
		echo:     e,
		listener: listener,
		logger:   logger,
	}, nil
}

func (s *Server) Start() {
	s.logger.Infof("Starting control server, address: %s", s.Address())

	go func() {
		if err := s.echo.StartServer(s.echo.Server); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("Control server error: %v", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Infof("Stopping control server")

	if err := s.echo.Shutdown(ctx); err != nil {
		return errors.NewInternalError("control server shutdown failed", err)
	}
	return nil
}

// Address returns the bound address, useful when listening on port 0
func (s *Server) Address() string {
	return s.listener.Addr().String()
}
