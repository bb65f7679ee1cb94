package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Enabled bool   `envconfig:"ENABLED" default:"true"`
	Host    string `envconfig:"HOST" default:"0.0.0.0"`
	Port    string `envconfig:"PORT" default:"88"`
}

// Server exposes /metrics on its own listener.
type Server struct {
	echo   *echo.Echo
	logger *logrus.Entry
}

// StartMetricsServer serves the default registry in the background. It
// returns nil when metrics are disabled; Stop is safe on a nil Server.
func StartMetricsServer(cfg Config, logger *logrus.Logger) *Server {
	if !cfg.Enabled {
		return nil
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s := &Server{echo: e, logger: logger.WithField("pkg", "metrics.Server")}
	addr := net.JoinHostPort(cfg.Host, cfg.Port)
	go func() {
		s.logger.Infof("metrics server listening on %s", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("metrics server failed")
		}
	}()
	return s
}

func (s *Server) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.echo.Shutdown(ctx)
}
