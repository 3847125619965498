package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/robfig/cron"

	"github.com/microcosm-cc/imagecache/cache"
	"github.com/microcosm-cc/imagecache/config"
	"github.com/microcosm-cc/imagecache/fetch"
	"github.com/microcosm-cc/imagecache/pool"
)

// Server owns the http listener and the cron jobs
type Server struct {
	conf   *config.Config
	router *mux.Router
	cron   *cron.Cron
	http   *http.Server
}

// New wires the handlers and jobs for the given core
func New(
	conf *config.Config,
	c *cache.Cache,
	p *pool.Pool,
	co *fetch.Coordinator,
) (*Server, error) {
	s := &Server{
		conf:   conf,
		router: mux.NewRouter(),
		cron:   cron.New(),
	}

	for url, handler := range handlers(conf, c, p, co) {
		s.router.HandleFunc(url, handler)
	}

	for schedule, job := range jobs(conf, co) {
		err := s.cron.AddFunc(schedule, job)
		if err != nil {
			return nil, fmt.Errorf("cron schedule %q: %v", schedule, err)
		}
	}

	return s, nil
}

// Router returns the http handler for the API
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the cron jobs and serves http until Stop is called
func (s *Server) Start() error {
	s.cron.Start()

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.conf.ListenPort),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if glog.V(2) {
		glog.Infof("Starting server on port %d", s.conf.ListenPort)
	}

	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop halts the cron jobs and shuts the listener down
func (s *Server) Stop(ctx context.Context) error {
	s.cron.Stop()

	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
