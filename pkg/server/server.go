package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"emperror.dev/emperror"
	"emperror.dev/errors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	dcert "github.com/je4/utils/v2/pkg/cert"
	"github.com/je4/utils/v2/pkg/zLogger"
	"github.com/jupyfs/jupyfs/pkg/contents"
	"github.com/jupyfs/jupyfs/version"
)

// Service bundles the backend a server instance exposes.
type Service struct {
	Backend     string
	Location    string
	Manager     contents.Manager
	Checkpoints contents.Checkpoints
	AllowHidden bool
	Token       string
}

type Server struct {
	service    *Service
	host, port string
	urlExt     *url.URL
	srv        *http.Server
	log        zLogger.ZLogger
	started    time.Time
}

func NewServer(service *Service, addr string, urlExt *url.URL, log zLogger.ZLogger) (*Server, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, emperror.Wrapf(err, "cannot split address %s", addr)
	}
	srv := &Server{
		service: service,
		host:    host,
		port:    port,
		urlExt:  urlExt,
		log:     log,
		started: time.Now(),
	}
	return srv, nil
}

// Handler builds the route tree. Exposed for the handler tests.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	route := gin.New()
	route.UseRawPath = true
	route.UnescapePathValues = false
	route.Use(gin.Recovery(), s.requestLogger())

	route.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	api := route.Group("/api", s.auth)
	api.GET("/status", s.status)
	api.GET("/contents", s.getContents)
	api.GET("/contents/*path", s.getContents)
	api.POST("/contents", s.postContents)
	api.POST("/contents/*path", s.postContents)
	api.PUT("/contents/*path", s.putContents)
	api.PATCH("/contents/*path", s.patchContents)
	api.DELETE("/contents/*path", s.deleteContents)

	return route.Handler()
}

func (s *Server) ListenAndServe(cert, key string) error {
	s.srv = &http.Server{
		Addr:    net.JoinHostPort(s.host, s.port),
		Handler: s.Handler(),
	}

	if cert == "auto" || key == "auto" {
		s.log.Info().Msg("generating new certificate")
		cert, err := dcert.DefaultCertificate()
		if err != nil {
			return errors.Wrap(err, "cannot generate default certificate")
		}
		s.srv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{*cert}}
		fmt.Printf("starting jupyfs contents api at %v - https://%s:%v/\n", s.urlExt.String(), s.host, s.port)
		return errors.WithStack(s.srv.ListenAndServeTLS("", ""))
	} else if cert != "" && key != "" {
		fmt.Printf("starting jupyfs contents api at %v - https://%s:%v/\n", s.urlExt.String(), s.host, s.port)
		return errors.WithStack(s.srv.ListenAndServeTLS(cert, key))
	} else {
		fmt.Printf("starting jupyfs contents api at %v - http://%s:%v/\n", s.urlExt.String(), s.host, s.port)
		return errors.WithStack(s.srv.ListenAndServe())
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	return errors.WithStack(s.srv.Shutdown(ctx))
}

// requestLogger tags every request with an id and writes an access line.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.NewString()
		c.Header("X-Request-Id", requestID)
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("requestid", requestID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}

// auth enforces the configured access token.
func (s *Server) auth(c *gin.Context) {
	if s.service.Token == "" {
		return
	}
	supplied := c.Query("token")
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "token ") {
		supplied = strings.TrimPrefix(header, "token ")
	} else if strings.HasPrefix(header, "Bearer ") {
		supplied = strings.TrimPrefix(header, "Bearer ")
	}
	if supplied != s.service.Token {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "Forbidden"})
	}
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":  "jupyfs",
		"version":  version.Version,
		"backend":  s.service.Backend,
		"location": s.service.Location,
		"started":  s.started.UTC(),
		"uptime":   time.Since(s.started).String(),
	})
}

// writeError renders coded errors with their status and hides internal
// ones behind a 500.
func (s *Server) writeError(c *gin.Context, err error) {
	status := contents.StatusCode(err)
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msgf("internal error on %s %s", c.Request.Method, c.Request.URL.Path)
		c.JSON(status, gin.H{"message": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"message": contents.Reason(err)})
}

// contentsURL builds the external URL of a stored entity.
func (s *Server) contentsURL(p string) string {
	base := strings.TrimRight(s.urlExt.String(), "/")
	if p == "" {
		return base + "/api/contents"
	}
	segments := strings.Split(p, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return base + "/api/contents/" + strings.Join(segments, "/")
}
