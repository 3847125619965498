package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/robfig/config"

	"github.com/microcosm-cc/imagecache/decode"
	"github.com/microcosm-cc/imagecache/device"
	"github.com/microcosm-cc/imagecache/fetch"
)

// ConfigFilePath is the path to the config file
const ConfigFilePath string = "/etc/imagecache/imagecache.conf"

// Section is the [imagecache] section of the config file
const Section string = "imagecache"

// Config file keys
const (
	HeapSize      = "heap_size"
	ScreenWidth   = "screen_width"
	ScreenHeight  = "screen_height"
	ScreenDensity = "screen_density"

	PoolSize            = "pool_size"
	FetchTimeoutSeconds = "fetch_timeout_seconds"
	MaxBodyBytes        = "max_body_bytes"
	MaxPixels           = "max_pixels"

	ListenPort = "listen_port"

	MemoryCheckSchedule  = "memory_check_schedule"
	MemoryHighWaterMB    = "memory_high_water_mb"
	ClearCacheOnPressure = "clear_cache_on_pressure"
)

// Defaults for the optional keys
const (
	DefaultScreenDensity = int(device.XHigh)
	DefaultPoolSize      = 10
	DefaultListenPort    = 8080
	DefaultMemoryCheck   = "*/30 * * * * *"
)

var configRequiredInts = []string{
	HeapSize,
	ScreenWidth,
	ScreenHeight,
}

// Config is the parsed config file
type Config struct {
	HeapSize      int
	ScreenWidth   int
	ScreenHeight  int
	ScreenDensity device.Density

	PoolSize     int
	FetchTimeout time.Duration
	MaxBodyBytes int64
	MaxPixels    int

	ListenPort int

	MemoryCheckSchedule  string
	MemoryHighWaterMB    int
	ClearCacheOnPressure bool
}

// Device returns the device described by the config
func (c *Config) Device() device.Static {
	return device.Static{
		Heap:   c.HeapSize,
		Width:  c.ScreenWidth,
		Height: c.ScreenHeight,
		DPI:    c.ScreenDensity,
	}
}

// Load reads the config file at path
func Load(path string) (*Config, error) {
	c, err := config.ReadDefault(path)
	if err != nil {
		return nil, err
	}

	return parse(c)
}

func parse(c *config.Config) (*Config, error) {
	if !c.HasSection(Section) {
		return nil, fmt.Errorf("config has no [%s] section", Section)
	}

	required := map[string]int{}
	for _, key := range configRequiredInts {
		i, err := c.Int(Section, key)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", key, err)
		}
		if i < 0 {
			return nil, fmt.Errorf("%s (%d) cannot be negative", key, i)
		}
		required[key] = i
	}

	conf := &Config{
		HeapSize:     required[HeapSize],
		ScreenWidth:  required[ScreenWidth],
		ScreenHeight: required[ScreenHeight],
	}

	dpi, err := optionalInt(c, ScreenDensity, DefaultScreenDensity)
	if err != nil {
		return nil, err
	}
	conf.ScreenDensity = device.DensityFromDPI(dpi)
	if int(conf.ScreenDensity) != dpi {
		glog.Warningf("%s %d is not a known density, using %d", ScreenDensity, dpi, conf.ScreenDensity)
	}

	conf.PoolSize, err = optionalInt(c, PoolSize, DefaultPoolSize)
	if err != nil {
		return nil, err
	}
	if conf.PoolSize < 1 {
		return nil, fmt.Errorf("%s (%d) must be at least 1", PoolSize, conf.PoolSize)
	}

	timeout, err := optionalInt(c, FetchTimeoutSeconds, 0)
	if err != nil {
		return nil, err
	}
	if timeout < 0 {
		return nil, fmt.Errorf("%s (%d) cannot be negative", FetchTimeoutSeconds, timeout)
	}
	conf.FetchTimeout = time.Duration(timeout) * time.Second

	conf.MaxBodyBytes = fetch.DefaultMaxBodyBytes
	if c.HasOption(Section, MaxBodyBytes) {
		s, _ := c.String(Section, MaxBodyBytes)
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%s (%s) must be a positive integer", MaxBodyBytes, s)
		}
		conf.MaxBodyBytes = n
	}

	conf.MaxPixels, err = optionalInt(c, MaxPixels, decode.DefaultMaxPixels)
	if err != nil {
		return nil, err
	}
	if conf.MaxPixels < 1 {
		return nil, fmt.Errorf("%s (%d) must be at least 1", MaxPixels, conf.MaxPixels)
	}

	conf.ListenPort, err = optionalInt(c, ListenPort, DefaultListenPort)
	if err != nil {
		return nil, err
	}

	conf.MemoryCheckSchedule = DefaultMemoryCheck
	if c.HasOption(Section, MemoryCheckSchedule) {
		s, err := c.String(Section, MemoryCheckSchedule)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", MemoryCheckSchedule, err)
		}
		conf.MemoryCheckSchedule = strings.TrimSpace(s)
	}

	conf.MemoryHighWaterMB, err = optionalInt(c, MemoryHighWaterMB, 0)
	if err != nil {
		return nil, err
	}

	if c.HasOption(Section, ClearCacheOnPressure) {
		b, err := c.Bool(Section, ClearCacheOnPressure)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", ClearCacheOnPressure, err)
		}
		conf.ClearCacheOnPressure = b
	}

	return conf, nil
}

func optionalInt(c *config.Config, key string, def int) (int, error) {
	if !c.HasOption(Section, key) {
		return def, nil
	}

	i, err := c.Int(Section, key)
	if err != nil {
		return 0, fmt.Errorf("%s: %v", key, err)
	}

	return i, nil
}
