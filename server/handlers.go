package server

import (
	"net/http"
	"time"

	"github.com/microcosm-cc/imagecache/cache"
	"github.com/microcosm-cc/imagecache/config"
	"github.com/microcosm-cc/imagecache/controller"
	"github.com/microcosm-cc/imagecache/fetch"
	"github.com/microcosm-cc/imagecache/pool"
)

func handlers(
	conf *config.Config,
	c *cache.Cache,
	p *pool.Pool,
	co *fetch.Coordinator,
) map[string]func(http.ResponseWriter, *http.Request) {
	// Give the download its own timeout plus a little to encode the answer
	var wait time.Duration
	if conf.FetchTimeout > 0 {
		wait = conf.FetchTimeout + 5*time.Second
	}

	images := &controller.ImageController{Images: co, Wait: wait}
	stats := &controller.CacheController{Cache: c, InFlight: co, Pool: p}

	return map[string]func(http.ResponseWriter, *http.Request){
		"/api/v1/images":  images.Handler,
		"/api/v1/cache":   stats.Handler,
		"/api/v1/version": controller.VersionHandler,
	}
}
