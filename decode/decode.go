// Package decode turns a downloaded body into a bitmap sized for the device
// it will be shown on.
package decode

import (
	"bytes"
	"fmt"
	"image"
	"io"

	// Decoders for the formats we accept. gif yields only its first frame.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/golang/glog"
	"github.com/microcosm-cc/exifutil"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/microcosm-cc/imagecache/device"
)

// DefaultMaxPixels is the largest width*height that will be decoded
const DefaultMaxPixels = 50000000

// Decoder decodes image bodies for a particular device
type Decoder struct {
	Device device.Provider

	// MaxPixels bounds the declared width*height of a body, zero means
	// DefaultMaxPixels
	MaxPixels int
}

// Decode reads the whole of r and returns the decoded, resized image
func (d Decoder) Decode(r io.Reader) (image.Image, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("empty body")
	}

	// The header is enough to refuse a body whose bitmap would not fit
	conf, _, err := image.DecodeConfig(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	if err := d.checkPixels(conf.Width, conf.Height); err != nil {
		return nil, err
	}

	// middle var is format, i.e. which decoder was used: "gif", "jpeg", "png"
	im, format, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}

	if format == "jpeg" {
		im = orient(im, content)
	}

	b := im.Bounds()
	width, height := d.TargetSize(b.Dx(), b.Dy())

	if glog.V(3) {
		glog.Infof("decoded %s %dx%d to %dx%d", format, b.Dx(), b.Dy(), width, height)
	}

	if width == b.Dx() && height == b.Dy() {
		return imaging.Clone(im), nil
	}

	return imaging.Resize(im, width, height, imaging.Lanczos), nil
}

func (d Decoder) checkPixels(width, height int) error {
	max := d.MaxPixels
	if max <= 0 {
		max = DefaultMaxPixels
	}

	if width < 1 || height < 1 {
		return fmt.Errorf("image has no pixels (%dx%d)", width, height)
	}
	if int64(width)*int64(height) > int64(max) {
		return fmt.Errorf("image is %dx%d, more than %d pixels", width, height, max)
	}

	return nil
}

// TargetSize works out the decoded size of a width x height source. The
// source is decimated according to the heap, scaled to the screen density and
// then fitted inside the screen while keeping its aspect ratio.
func (d Decoder) TargetSize(width, height int) (int, int) {
	if width < 1 || height < 1 {
		return 1, 1
	}

	sample := device.SampleSize(d.Device.HeapSize())
	density := d.Device.Density()

	w := float64(width) / float64(sample) * float64(density) / float64(device.Medium)
	h := float64(height) / float64(sample) * float64(density) / float64(device.Medium)

	maxW := float64(d.Device.ScreenWidth())
	maxH := float64(d.Device.ScreenHeight())
	if maxW > 0 && w > maxW {
		h = h * maxW / w
		w = maxW
	}
	if maxH > 0 && h > maxH {
		w = w * maxH / h
		h = maxH
	}

	return atLeastOne(w), atLeastOne(h)
}

func atLeastOne(v float64) int {
	n := int(v + 0.5)
	if n < 1 {
		return 1
	}
	return n
}

// orient applies the EXIF orientation of a JPEG. If the exif data cannot be
// decoded or the orientation tag not read the image is returned as it is.
func orient(im image.Image, content []byte) image.Image {
	ex, err := exif.Decode(bytes.NewReader(content))
	if err != nil {
		return im
	}
	tag, err := ex.Get(exif.Orientation)
	if err != nil {
		return im
	}
	orientation, err := tag.Int(0)
	if err != nil {
		return im
	}

	angle, flipMode, _ := exifutil.ProcessOrientation(int64(orientation))

	if angle != 0 {
		im = exifutil.Rotate(im, angle)
	}

	if flipMode != 0 {
		im = exifutil.Flip(im, flipMode)
	}

	return im
}
