package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/microcosm-cc/imagecache/cache"
	conf "github.com/microcosm-cc/imagecache/config"
	"github.com/microcosm-cc/imagecache/device"
	"github.com/microcosm-cc/imagecache/dispatch"
	"github.com/microcosm-cc/imagecache/fetch"
	"github.com/microcosm-cc/imagecache/pool"
	"github.com/microcosm-cc/imagecache/server"
)

var (
	configPath = flag.String("config", conf.ConfigFilePath, "path to the config file")
	memprof    = flag.String("memprof", "", "write memory profile to file")
)

func main() {
	// Parse flags and start memory profiling
	// Usage: -memprof=imagecache.mprof
	// Also used to init glog
	flag.Parse()

	// 100 megabytes max before rolling the log files
	glog.MaxSize = 1024 * 1024 * 100

	c, err := conf.Load(*configPath)
	if err != nil {
		glog.Fatalf("conf.Load(`%s`) %+v", *configPath, err)
	}

	// The device must be known before the cache can be sized
	dev := c.Device()
	capacity := device.CacheCapacity(dev.HeapSize())

	if glog.V(2) {
		glog.Infof(
			"Initialising cache for %d images, %d workers, %dx%d at %d dpi",
			capacity,
			c.PoolSize,
			dev.ScreenWidth(),
			dev.ScreenHeight(),
			dev.Density(),
		)
	}

	images := cache.New(capacity, cache.WithReclaimHint(runtime.GC))
	workers := pool.New(c.PoolSize)

	// Download callbacks all run on this one goroutine
	loop := dispatch.NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	co := fetch.New(
		images,
		workers,
		dev,
		loop,
		fetch.WithTimeout(c.FetchTimeout),
		fetch.WithMaxBodyBytes(c.MaxBodyBytes),
		fetch.WithMaxPixels(c.MaxPixels),
	)

	s, err := server.New(c, images, workers, co)
	if err != nil {
		glog.Fatal(err)
	}

	stop := func() {
		shutdown, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		s.Stop(shutdown)
		cancel()
	}

	if *memprof != "" {
		// Reference time is used for formatting.
		// See http://golang.org/pkg/time for details.
		fname := *memprof + "-" + time.Now().Format("2006-01-02_15-04-05-MST")
		f, err := os.Create(fname)
		if err != nil {
			glog.Fatal(err)
		}

		// Catch SIGINT and write heap profile
		sc := make(chan os.Signal, 1)
		signal.Notify(sc, syscall.SIGINT)
		go func() {
			for sig := range sc {
				glog.Warningf("Caught %v, stopping profiler and exiting..", sig)
				// Heap profiler is run on GC, so make sure it GCs before exiting.
				runtime.GC()
				pprof.WriteHeapProfile(f)
				f.Close()
				stop()
				glog.Flush()
				os.Exit(1)
			}
		}()
	} else {
		// Catch closing signal and flush logs
		sigc := make(chan os.Signal, 1)
		signal.Notify(
			sigc,
			syscall.SIGHUP,
			syscall.SIGINT,
			syscall.SIGTERM,
			syscall.SIGQUIT,
		)
		go func() {
			<-sigc
			stop()
			glog.Flush()
			os.Exit(1)
		}()
	}

	if err := s.Start(); err != nil {
		glog.Fatal(err)
	}
}
