// Package fetch coordinates getting images: from the cache when they are
// there, otherwise by downloading and decoding them on the worker pool.
//
// Callbacks for images that had to be downloaded are always delivered
// through the Dispatcher and never on a worker goroutine. Callbacks for cache
// hits run straight away on the caller's goroutine.
package fetch

import (
	"image"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/microcosm-cc/imagecache/cache"
	"github.com/microcosm-cc/imagecache/decode"
	"github.com/microcosm-cc/imagecache/device"
	"github.com/microcosm-cc/imagecache/dispatch"
	h "github.com/microcosm-cc/imagecache/helpers"
)

// DefaultMaxBodyBytes is the largest body that will be decoded
const DefaultMaxBodyBytes int64 = 5242880 * 2 // 10MB

// Callback receives the outcome of RequestImage. img is nil when failed is
// true.
type Callback func(img image.Image, failed bool)

// Submitter runs jobs in the background. *pool.Pool is one.
type Submitter interface {
	Submit(job func())
}

// releaser is implemented by submitters that can give their workers back
type releaser interface {
	Release()
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithClient sets the HTTP client used for downloads
func WithClient(client *http.Client) Option {
	return func(co *Coordinator) {
		co.client = client
	}
}

// WithTimeout bounds each download. Zero leaves only the client's own limits.
func WithTimeout(d time.Duration) Option {
	return func(co *Coordinator) {
		co.timeout = d
	}
}

// WithMaxBodyBytes bounds the size of a body that will be decoded
func WithMaxBodyBytes(n int64) Option {
	return func(co *Coordinator) {
		if n > 0 {
			co.maxBodyBytes = n
		}
	}
}

// WithMaxPixels bounds the declared width*height of an image that will be
// decoded
func WithMaxPixels(n int) Option {
	return func(co *Coordinator) {
		if n > 0 {
			co.decoder.MaxPixels = n
		}
	}
}

// Coordinator serves image requests from the cache and downloads what is
// missing, one download per address at a time
type Coordinator struct {
	cache      *cache.Cache
	workers    Submitter
	decoder    decode.Decoder
	dispatcher dispatch.Dispatcher

	client       *http.Client
	timeout      time.Duration
	maxBodyBytes int64

	mu       sync.Mutex
	inFlight map[string][]Callback
}

// New returns a Coordinator that stores into c, downloads on workers, decodes
// for d and delivers download results through disp
func New(
	c *cache.Cache,
	workers Submitter,
	d device.Provider,
	disp dispatch.Dispatcher,
	opts ...Option,
) *Coordinator {
	co := &Coordinator{
		cache:        c,
		workers:      workers,
		decoder:      decode.Decoder{Device: d},
		dispatcher:   disp,
		client:       http.DefaultClient,
		maxBodyBytes: DefaultMaxBodyBytes,
		inFlight:     map[string][]Callback{},
	}
	for _, opt := range opts {
		opt(co)
	}

	return co
}

// RequestImage delivers the image at address to onComplete. An address that
// cannot be fetched is rejected with an error and onComplete is not called.
// Otherwise onComplete is called exactly once.
func (co *Coordinator) RequestImage(address string, onComplete Callback) error {
	if _, err := h.ParseAddress(address); err != nil {
		if glog.V(2) {
			glog.Infof("rejected %+v", err)
		}
		return err
	}

	if img, ok := co.cache.Get(address); ok {
		onComplete(img, false)
		return nil
	}

	co.mu.Lock()
	if waiters, ok := co.inFlight[address]; ok {
		co.inFlight[address] = append(waiters, onComplete)
		co.mu.Unlock()
		return nil
	}

	// The previous download for this address may have stored its image
	// between our first look and taking the lock
	if img, ok := co.cache.Get(address); ok {
		co.mu.Unlock()
		onComplete(img, false)
		return nil
	}

	co.inFlight[address] = []Callback{onComplete}
	co.mu.Unlock()

	co.workers.Submit(func() { co.run(address) })

	return nil
}

// run is the body of a download job
func (co *Coordinator) run(address string) {
	var img image.Image

	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("fetch %s panicked: %v\n%s", address, r, debug.Stack())
			img = nil
		}
		co.complete(address, img)
	}()

	var err error
	img, err = co.fetch(address)
	if err != nil {
		glog.Warningf("co.fetch(`%s`) %+v", address, err)
		return
	}

	co.cache.Put(address, img)
}

// complete ends the download of address and hands the result to everyone who
// asked for it while it was running
func (co *Coordinator) complete(address string, img image.Image) {
	co.mu.Lock()
	waiters := co.inFlight[address]
	delete(co.inFlight, address)
	co.mu.Unlock()

	failed := img == nil
	for _, cb := range waiters {
		cb := cb
		co.dispatcher.Post(func() { cb(img, failed) })
	}
}

// InFlight reports whether address is being downloaded
func (co *Coordinator) InFlight(address string) bool {
	co.mu.Lock()
	defer co.mu.Unlock()

	_, ok := co.inFlight[address]
	return ok
}

// InFlightCount returns the number of addresses being downloaded
func (co *Coordinator) InFlightCount() int {
	co.mu.Lock()
	defer co.mu.Unlock()

	return len(co.inFlight)
}

// Trim gives memory back. The worker pool is released (it is rebuilt on the
// next download), the cache is emptied if clearCache is set and the runtime is
// asked to return freed memory to the OS.
func (co *Coordinator) Trim(clearCache bool) {
	if r, ok := co.workers.(releaser); ok {
		r.Release()
	}

	if clearCache {
		co.cache.Clear()
	}

	debug.FreeOSMemory()
}
