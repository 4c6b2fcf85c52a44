// Package echoprom serves the bot's Prometheus metrics and a health check
// over Echo. Requests to the server are themselves counted and timed.
package echoprom

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/lanternbot/ircbot/irc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// DefaultAddr is where the status server listens when none is configured
	DefaultAddr = "127.0.0.1:7070"

	MetricsPath = "/metrics"
	HealthPath  = "/healthz"
)

// StatusSource reports the state of the IRC session. *irc.Session
// implements it.
type StatusSource interface {
	State() irc.State
	Nickname() string
}

// Status is the /healthz response body
type Status struct {
	State    string `json:"state"`
	Nickname string `json:"nickname"`
	Ready    bool   `json:"ready"`
}

// Server is the HTTP status server
type Server struct {
	echo   *echo.Echo
	source StatusSource

	requestDuration *prometheus.HistogramVec
	requestsTotal   *prometheus.CounterVec
}

// New creates a status server exposing reg at /metrics. The server's own
// request metrics are registered on reg.
func New(reg *prometheus.Registry, source StatusSource) *Server {
	s := &Server{
		echo:   echo.New(),
		source: source,
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ircbot_http_request_duration_seconds",
				Help:    "Status server request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ircbot_http_requests_total",
				Help: "Status server requests by path, method and status code",
			},
			[]string{"path", "method", "code"},
		),
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(s.middleware())

	s.echo.GET(MetricsPath, echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})))
	s.echo.GET(HealthPath, s.health)

	return s
}

// Handler returns the server's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr and blocks until the server is shut down. It
// returns nil after Shutdown.
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	state := s.source.State()
	status := Status{
		State:    state.String(),
		Nickname: s.source.Nickname(),
		Ready:    state == irc.StateReady,
	}

	code := http.StatusOK
	if !status.Ready {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

func (s *Server) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			// Route patterns, not raw URLs, to keep label cardinality bounded
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			method := c.Request().Method
			s.requestDuration.WithLabelValues(path, method).Observe(time.Since(start).Seconds())
			s.requestsTotal.WithLabelValues(path, method, strconv.Itoa(c.Response().Status)).Inc()

			return nil
		}
	}
}
