package fetch

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microcosm-cc/imagecache/cache"
	"github.com/microcosm-cc/imagecache/device"
	"github.com/microcosm-cc/imagecache/dispatch"
	e "github.com/microcosm-cc/imagecache/errors"
	"github.com/microcosm-cc/imagecache/pool"
)

type result struct {
	img    image.Image
	failed bool
}

// countingDispatcher forwards to a running loop and counts what went through
type countingDispatcher struct {
	loop  *dispatch.Loop
	posts atomic.Int32
}

func (d *countingDispatcher) Post(fn func()) {
	d.posts.Add(1)
	d.loop.Post(fn)
}

type harness struct {
	co     *Coordinator
	cache  *cache.Cache
	pool   *pool.Pool
	disp   *countingDispatcher
	origin *httptest.Server
	hits   atomic.Int32
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()

	var buf bytes.Buffer
	img := imaging.New(w, h, color.NRGBA{B: 255, A: 255})
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))

	return buf.Bytes()
}

func newHarness(t *testing.T, handler http.HandlerFunc, opts ...Option) *harness {
	t.Helper()

	hs := &harness{
		cache: cache.New(4),
		pool:  pool.New(pool.DefaultSize),
		disp:  &countingDispatcher{loop: dispatch.NewLoop()},
	}

	hs.origin = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hs.hits.Add(1)
		handler(w, r)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hs.disp.loop.Run(ctx)
		close(stopped)
	}()

	t.Cleanup(func() {
		hs.pool.Wait()
		cancel()
		<-stopped
		hs.origin.Close()
	})

	dev := device.Static{Heap: 128, DPI: device.Medium}
	hs.co = New(hs.cache, hs.pool, dev, hs.disp, opts...)

	return hs
}

func (hs *harness) url(path string) string {
	return hs.origin.URL + path
}

func serveImage(body []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(body)
	}
}

func wait(t *testing.T, ch <-chan result) result {
	t.Helper()

	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("callback was not called")
		return result{}
	}
}

func collect(ch chan<- result) Callback {
	return func(img image.Image, failed bool) {
		ch <- result{img: img, failed: failed}
	}
}

func TestHitBypassesFetch(t *testing.T) {
	hs := newHarness(t, serveImage(pngBytes(t, 4, 4)))
	address := hs.url("/cached.png")

	stored := imaging.New(3, 3, color.NRGBA{A: 255})
	hs.cache.Put(address, stored)

	var (
		called bool
		got    image.Image
	)
	err := hs.co.RequestImage(address, func(img image.Image, failed bool) {
		called = true
		got = img
		assert.False(t, failed)
	})
	require.NoError(t, err)

	// delivered before RequestImage returned
	assert.True(t, called)
	assert.Same(t, stored, got)
	assert.Equal(t, uint64(0), hs.pool.Submitted())
	assert.Equal(t, int32(0), hs.disp.posts.Load())
	assert.Equal(t, int32(0), hs.hits.Load())
}

func TestMissFetchesOnce(t *testing.T) {
	hs := newHarness(t, serveImage(pngBytes(t, 8, 6)))
	address := hs.url("/cold.png")

	ch := make(chan result, 1)
	require.NoError(t, hs.co.RequestImage(address, collect(ch)))

	r := wait(t, ch)
	require.False(t, r.failed)
	require.NotNil(t, r.img)
	assert.Equal(t, 8, r.img.Bounds().Dx())
	assert.Equal(t, 6, r.img.Bounds().Dy())

	assert.Equal(t, uint64(1), hs.pool.Submitted())
	assert.Equal(t, int32(1), hs.hits.Load())
	assert.Equal(t, int32(1), hs.disp.posts.Load())
	assert.False(t, hs.co.InFlight(address))

	cached, ok := hs.cache.Get(address)
	require.True(t, ok)
	assert.Same(t, r.img, cached)

	// now it is a hit
	ch2 := make(chan result, 1)
	require.NoError(t, hs.co.RequestImage(address, collect(ch2)))
	r = wait(t, ch2)
	assert.False(t, r.failed)
	assert.Equal(t, uint64(1), hs.pool.Submitted())
	assert.Equal(t, int32(1), hs.hits.Load())
}

func TestNotFoundFails(t *testing.T) {
	body := pngBytes(t, 4, 4)
	hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write(body)
	})
	address := hs.url("/missing.png")

	ch := make(chan result, 1)
	require.NoError(t, hs.co.RequestImage(address, collect(ch)))

	r := wait(t, ch)
	assert.True(t, r.failed)
	assert.Nil(t, r.img)
	assert.Equal(t, 0, hs.cache.Len())
	_, ok := hs.cache.Hits(address)
	assert.False(t, ok)
}

func TestFailureLeavesCacheAlone(t *testing.T) {
	hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	kept := imaging.New(1, 1, color.NRGBA{A: 255})
	hs.cache.Put("http://example.org/kept.png", kept)

	ch := make(chan result, 1)
	require.NoError(t, hs.co.RequestImage(hs.url("/broken.png"), collect(ch)))
	assert.True(t, wait(t, ch).failed)

	assert.Equal(t, 1, hs.cache.Len())
	hits, ok := hs.cache.Hits("http://example.org/kept.png")
	assert.True(t, ok)
	assert.Equal(t, uint64(1), hits)
}

func TestInvalidAddressRejected(t *testing.T) {
	hs := newHarness(t, serveImage(pngBytes(t, 4, 4)))

	for _, address := range []string{"", "not a url", "ftp://example.org/a.png", "http://"} {
		err := hs.co.RequestImage(address, func(image.Image, bool) {
			t.Errorf("callback called for %q", address)
		})
		if assert.Error(t, err, address) {
			assert.Equal(t, e.InvalidAddress, e.Code(err), address)
		}
	}

	assert.Equal(t, uint64(0), hs.pool.Submitted())
	assert.Equal(t, int32(0), hs.disp.posts.Load())
}

func TestCorruptBodyFails(t *testing.T) {
	hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("\x89PNG\r\n\x1a\nthis is not really a png"))
	})

	ch := make(chan result, 1)
	require.NoError(t, hs.co.RequestImage(hs.url("/corrupt.png"), collect(ch)))

	r := wait(t, ch)
	assert.True(t, r.failed)
	assert.Nil(t, r.img)
	assert.Equal(t, 0, hs.cache.Len())
}

func TestOversizedBodyFails(t *testing.T) {
	hs := newHarness(t, serveImage(pngBytes(t, 64, 64)), WithMaxBodyBytes(16))

	ch := make(chan result, 1)
	require.NoError(t, hs.co.RequestImage(hs.url("/big.png"), collect(ch)))

	assert.True(t, wait(t, ch).failed)
	assert.Equal(t, 0, hs.cache.Len())
}

func TestTooManyPixelsFails(t *testing.T) {
	hs := newHarness(t, serveImage(pngBytes(t, 64, 64)), WithMaxPixels(64*63))

	ch := make(chan result, 1)
	require.NoError(t, hs.co.RequestImage(hs.url("/wide.png"), collect(ch)))

	assert.True(t, wait(t, ch).failed)
	assert.Equal(t, 0, hs.cache.Len())

	_, err := hs.co.fetch(hs.url("/wide.png"))
	assert.Equal(t, e.DecodeFailure, e.Code(err))
}

func TestNetworkFailure(t *testing.T) {
	hs := newHarness(t, serveImage(nil))
	address := hs.url("/gone.png")
	hs.origin.Close()

	ch := make(chan result, 1)
	require.NoError(t, hs.co.RequestImage(address, collect(ch)))

	assert.True(t, wait(t, ch).failed)
	assert.False(t, hs.co.InFlight(address))
}

func TestTimeout(t *testing.T) {
	release := make(chan struct{})
	hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, WithTimeout(50*time.Millisecond))
	defer close(release)

	ch := make(chan result, 1)
	require.NoError(t, hs.co.RequestImage(hs.url("/slow.png"), collect(ch)))

	assert.True(t, wait(t, ch).failed)
}

func TestConcurrentRequestsShareOneFetch(t *testing.T) {
	body := pngBytes(t, 5, 5)
	release := make(chan struct{})
	hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write(body)
	})
	address := hs.url("/shared.png")

	const callers = 6
	ch := make(chan result, callers)
	for i := 0; i < callers; i++ {
		require.NoError(t, hs.co.RequestImage(address, collect(ch)))
	}

	assert.True(t, hs.co.InFlight(address))
	assert.Equal(t, 1, hs.co.InFlightCount())
	assert.Equal(t, uint64(1), hs.pool.Submitted())

	close(release)

	var first image.Image
	for i := 0; i < callers; i++ {
		r := wait(t, ch)
		require.False(t, r.failed)
		if first == nil {
			first = r.img
		}
		assert.Same(t, first, r.img)
	}

	assert.Equal(t, int32(1), hs.hits.Load())
	assert.Equal(t, int32(callers), hs.disp.posts.Load())
	assert.Equal(t, 0, hs.co.InFlightCount())
}

func TestCallbackWaitsForDispatcher(t *testing.T) {
	c := cache.New(2)
	p := pool.New(2)
	loop := dispatch.NewLoop()

	origin := httptest.NewServer(serveImage(pngBytes(t, 2, 2)))
	defer origin.Close()

	co := New(c, p, device.Static{Heap: 128, DPI: device.Medium}, loop)

	var called atomic.Bool
	require.NoError(t, co.RequestImage(origin.URL+"/a.png", func(img image.Image, failed bool) {
		called.Store(true)
	}))
	p.Wait()

	// the job has finished but nothing drained the loop yet
	assert.False(t, called.Load())
	assert.Equal(t, 1, loop.Len())

	ctx, cancel := context.WithCancel(context.Background())
	loop.Post(cancel)
	loop.Run(ctx)

	assert.True(t, called.Load())
}

func TestTrimReleasesPool(t *testing.T) {
	hs := newHarness(t, serveImage(pngBytes(t, 3, 3)))

	ch := make(chan result, 1)
	require.NoError(t, hs.co.RequestImage(hs.url("/a.png"), collect(ch)))
	wait(t, ch)
	hs.pool.Wait()
	require.True(t, hs.pool.Live())

	hs.co.Trim(false)
	assert.False(t, hs.pool.Live())
	assert.Equal(t, 1, hs.cache.Len())

	// next download builds a new pool
	require.NoError(t, hs.co.RequestImage(hs.url("/b.png"), collect(ch)))
	assert.False(t, wait(t, ch).failed)
	assert.Equal(t, uint64(2), hs.pool.Generations())

	hs.co.Trim(true)
	assert.Equal(t, 0, hs.cache.Len())
}

func TestManyAddressesConcurrently(t *testing.T) {
	hs := newHarness(t, serveImage(pngBytes(t, 2, 2)))

	const n = 30
	ch := make(chan result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := "/img-" + string(rune('a'+i%26)) + ".png"
			if i >= 26 {
				path = "/again" + path
			}
			assert.NoError(t, hs.co.RequestImage(hs.url(path), collect(ch)))
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		assert.False(t, wait(t, ch).failed)
	}
	assert.LessOrEqual(t, hs.cache.Len(), hs.cache.Capacity())
	assert.Equal(t, 0, hs.co.InFlightCount())
}
