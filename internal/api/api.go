// Package api serves the session over a small JSON HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/holiman/uint256"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/walletd/internal/amount"
	"github.com/vultisig/walletd/internal/ledger"
	"github.com/vultisig/walletd/internal/principal"
	"github.com/vultisig/walletd/internal/session"
)

// Session is the part of session.Session the API drives.
type Session interface {
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	View() session.View
	Whoami(ctx context.Context) (principal.Principal, error)
	MaxWithdrawable() (*uint256.Int, error)
	Withdraw(ctx context.Context, amountText, recipientText string) (ledger.Receipt, error)
}

type Config struct {
	Host string `envconfig:"HOST" default:"127.0.0.1"`
	Port string `envconfig:"PORT" default:"8080"`
	// ShutdownTimeout bounds the graceful drain on stop.
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

type Server struct {
	cfg     Config
	session Session
	echo    *echo.Echo
	logger  *logrus.Entry
}

// DefaultMiddlewares are installed before any caller supplied middleware.
func DefaultMiddlewares() []echo.MiddlewareFunc {
	return []echo.MiddlewareFunc{
		middleware.Recover(),
		middleware.BodyLimit("64K"),
	}
}

func NewServer(cfg Config, sess Session, middlewares []echo.MiddlewareFunc, logger *logrus.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middlewares...)

	s := &Server{
		cfg:     cfg,
		session: sess,
		echo:    e,
		logger:  logger.WithField("pkg", "api.Server"),
	}

	e.GET("/healthz", s.healthz)
	e.POST("/login", s.login)
	e.POST("/logout", s.logout)
	e.GET("/session", s.view)
	e.GET("/whoami", s.whoami)
	e.GET("/max", s.maxWithdrawable)
	e.POST("/withdraw", s.withdraw)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is done, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, s.cfg.Port)
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("api listening on %s", addr)
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type withdrawRequest struct {
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
}

type withdrawResponse struct {
	Status     string `json:"status"`
	BlockIndex string `json:"block_index,omitempty"`
}

type amountResponse struct {
	Amount string `json:"amount"`
}

type principalResponse struct {
	Principal string `json:"principal"`
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) login(c echo.Context) error {
	if err := s.session.Login(c.Request().Context()); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, s.session.View())
}

func (s *Server) logout(c echo.Context) error {
	if err := s.session.Logout(c.Request().Context()); err != nil {
		s.logger.WithError(err).Warn("logout incomplete")
	}
	return c.JSON(http.StatusOK, s.session.View())
}

func (s *Server) view(c echo.Context) error {
	return c.JSON(http.StatusOK, s.session.View())
}

func (s *Server) whoami(c echo.Context) error {
	p, err := s.session.Whoami(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, principalResponse{Principal: p.String()})
}

func (s *Server) maxWithdrawable(c echo.Context) error {
	units, err := s.session.MaxWithdrawable()
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, amountResponse{Amount: amount.ToDisplay(units)})
}

func (s *Server) withdraw(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "bad_request", Reason: "failed to read request body"})
	}
	var req withdrawRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "bad_request", Reason: "malformed request body"})
	}
	if err := validateBody(withdrawSchema, body); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "bad_request", Reason: err.Error()})
	}

	receipt, err := s.session.Withdraw(c.Request().Context(), req.Amount, req.Recipient)
	if err != nil {
		return s.fail(c, err)
	}

	res := withdrawResponse{Status: "accepted"}
	if receipt.BlockIndex != nil {
		res.BlockIndex = receipt.BlockIndex.Dec()
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) fail(c echo.Context, err error) error {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("path", c.Path()).Warn("request failed")
	}
	return c.JSON(status, body)
}
