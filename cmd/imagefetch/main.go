package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"os"

	"github.com/disintegration/imaging"
	"github.com/golang/glog"

	"github.com/microcosm-cc/imagecache/cache"
	conf "github.com/microcosm-cc/imagecache/config"
	"github.com/microcosm-cc/imagecache/device"
	"github.com/microcosm-cc/imagecache/dispatch"
	"github.com/microcosm-cc/imagecache/fetch"
	"github.com/microcosm-cc/imagecache/pool"
)

func main() {
	configPath := flag.String("config", conf.ConfigFilePath, "path to the config file")
	address := flag.String("url", "", "address of the image to fetch")
	out := flag.String("out", "image.png", "file to write the decoded image to")

	// Also used to init glog
	flag.Parse()
	defer glog.Flush()

	c, err := conf.Load(*configPath)
	if err != nil {
		glog.Fatalf("conf.Load(`%s`) %+v", *configPath, err)
	}

	dev := c.Device()
	workers := pool.New(c.PoolSize)
	loop := dispatch.NewLoop()

	co := fetch.New(
		cache.New(device.CacheCapacity(dev.HeapSize())),
		workers,
		dev,
		loop,
		fetch.WithTimeout(c.FetchTimeout),
		fetch.WithMaxBodyBytes(c.MaxBodyBytes),
		fetch.WithMaxPixels(c.MaxPixels),
	)

	ctx, cancel := context.WithCancel(context.Background())

	var (
		result image.Image
		failed bool
	)
	err = co.RequestImage(*address, func(img image.Image, f bool) {
		result, failed = img, f
		cancel()
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	// The callback runs here, on the main goroutine
	loop.Run(ctx)

	if failed {
		fmt.Fprintf(os.Stderr, "could not fetch %s\n", *address)
		os.Exit(1)
	}

	err = imaging.Save(result, *out)
	if err != nil {
		glog.Errorf("imaging.Save(result, `%s`) %+v", *out, err)
		glog.Flush()
		os.Exit(1)
	}

	b := result.Bounds()
	fmt.Printf("%s: %dx%d written to %s\n", *address, b.Dx(), b.Dy(), *out)
}
