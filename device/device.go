// Package device describes the screen and memory of the device images are
// decoded for. The values are read once at start up and never change.
package device

// Density is a screen density bucket in dots per inch
type Density int

// Screen densities
const (
	Low    Density = 120
	Medium Density = 160
	High   Density = 240
	XHigh  Density = 320
)

// DensityFromDPI maps a reported dpi to one of the known buckets, anything
// unrecognised is treated as XHigh
func DensityFromDPI(dpi int) Density {
	switch Density(dpi) {
	case Low:
		return Low
	case Medium:
		return Medium
	case High:
		return High
	default:
		return XHigh
	}
}

// Provider answers questions about the current device
type Provider interface {
	// HeapSize is the memory available to the process, in megabytes
	HeapSize() int
	ScreenWidth() int
	ScreenHeight() int
	Density() Density
}

// Static is a Provider with fixed values, usually filled from the config file
type Static struct {
	Heap   int
	Width  int
	Height int
	DPI    Density
}

// HeapSize implements Provider
func (s Static) HeapSize() int { return s.Heap }

// ScreenWidth implements Provider
func (s Static) ScreenWidth() int { return s.Width }

// ScreenHeight implements Provider
func (s Static) ScreenHeight() int { return s.Height }

// Density implements Provider
func (s Static) Density() Density {
	if s.DPI == 0 {
		return XHigh
	}
	return s.DPI
}

// SampleSize returns how many source pixels are folded into one when decoding
// on a device with the given heap. Small heaps decode coarser.
func SampleSize(heap int) int {
	switch {
	case heap <= 16:
		return 5
	case heap <= 32:
		return 3
	case heap <= 64:
		return 2
	default:
		return 1
	}
}

// CacheCapacity returns how many images to keep in memory for the given heap.
// Two thirds of the heap is given over to images, and there is always room
// for at least one.
func CacheCapacity(heap int) int {
	n := heap * 2 / 3
	if n < 1 {
		return 1
	}
	return n
}
