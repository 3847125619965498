package controller

import (
	"net/http"

	"github.com/golang/glog"

	"github.com/microcosm-cc/imagecache/cache"
)

// CacheStore is the part of the cache the controller reports on
type CacheStore interface {
	Stats() cache.Stats
	Clear()
}

// InFlightCounter reports downloads in progress
type InFlightCounter interface {
	InFlightCount() int
}

// WorkerPool reports on the download workers
type WorkerPool interface {
	Size() int
	Live() bool
	Submitted() uint64
	Generations() uint64
}

// PoolStats describes the worker pool
type PoolStats struct {
	Size        int    `json:"size"`
	Live        bool   `json:"live"`
	Submitted   uint64 `json:"submitted"`
	Generations uint64 `json:"generations"`
}

// CacheStats is the body of GET /api/v1/cache
type CacheStats struct {
	Cache    cache.Stats `json:"cache"`
	InFlight int         `json:"inFlight"`
	Pool     PoolStats   `json:"pool"`
}

// CacheController is a web controller
type CacheController struct {
	Cache    CacheStore
	InFlight InFlightCounter
	Pool     WorkerPool
}

// Handler is a web handler
func (ctl *CacheController) Handler(w http.ResponseWriter, r *http.Request) {
	c := MakeContext(r, w)

	switch c.GetHTTPMethod() {
	case "OPTIONS":
		c.RespondWithOptions([]string{"OPTIONS", "GET", "DELETE"})
		return
	case "GET":
		ctl.Read(c)
	case "DELETE":
		ctl.Delete(c)
	default:
		c.RespondWithStatus(http.StatusMethodNotAllowed)
		return
	}
}

// Read handles GET
func (ctl *CacheController) Read(c *Context) {
	stats := CacheStats{
		Cache:    ctl.Cache.Stats(),
		InFlight: ctl.InFlight.InFlightCount(),
		Pool: PoolStats{
			Size:        ctl.Pool.Size(),
			Live:        ctl.Pool.Live(),
			Submitted:   ctl.Pool.Submitted(),
			Generations: ctl.Pool.Generations(),
		},
	}

	c.RespondWithData(stats)
}

// Delete handles DELETE
func (ctl *CacheController) Delete(c *Context) {
	ctl.Cache.Clear()

	if glog.V(2) {
		glog.Info("cache cleared over http")
	}

	c.RespondWithOK()
}
