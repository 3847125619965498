package controller

import (
	"bytes"
	"fmt"
	"image"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/golang/glog"

	e "github.com/microcosm-cc/imagecache/errors"
	"github.com/microcosm-cc/imagecache/fetch"
	h "github.com/microcosm-cc/imagecache/helpers"
)

// Requester is what the image controller needs from the fetch core
type Requester interface {
	RequestImage(address string, onComplete fetch.Callback) error
}

type imageResult struct {
	img    image.Image
	failed bool
}

// ImageController is a web controller
type ImageController struct {
	Images Requester

	// Wait bounds how long a request waits for a download, zero waits for as
	// long as the client does
	Wait time.Duration
}

// Handler is a web handler
func (ctl *ImageController) Handler(w http.ResponseWriter, r *http.Request) {
	c := MakeContext(r, w)

	switch c.GetHTTPMethod() {
	case "OPTIONS":
		c.RespondWithOptions([]string{"OPTIONS", "GET", "HEAD"})
		return
	case "GET", "HEAD":
		ctl.Read(c)
	default:
		c.RespondWithStatus(http.StatusMethodNotAllowed)
		return
	}
}

// Read handles GET
func (ctl *ImageController) Read(c *Context) {
	query := c.Request.URL.Query()
	address := strings.TrimSpace(query.Get("url"))

	format := imaging.PNG
	contentType := "image/png"
	switch strings.ToLower(query.Get("format")) {
	case "", "png":
	case "jpg", "jpeg":
		format = imaging.JPEG
		contentType = "image/jpeg"
	default:
		c.RespondWithErrorMessage(
			fmt.Sprintf("format (%s) must be png or jpeg", query.Get("format")),
			http.StatusBadRequest,
		)
		return
	}

	// Buffered so a late callback never blocks the dispatcher
	ch := make(chan imageResult, 1)
	err := ctl.Images.RequestImage(address, func(img image.Image, failed bool) {
		ch <- imageResult{img: img, failed: failed}
	})
	if err != nil {
		c.RespondWithErrorDetail(err, e.Code(err).HTTPStatus())
		return
	}

	var timeout <-chan time.Time
	if ctl.Wait > 0 {
		timer := time.NewTimer(ctl.Wait)
		defer timer.Stop()
		timeout = timer.C
	}

	var res imageResult
	select {
	case res = <-ch:
	case <-timeout:
		c.RespondWithErrorMessage("timed out waiting for the image", http.StatusGatewayTimeout)
		return
	case <-c.Request.Context().Done():
		return
	}

	if res.failed {
		c.RespondWithErrorMessage(
			fmt.Sprintf("could not fetch image from %s", address),
			http.StatusBadGateway,
		)
		return
	}

	var buf bytes.Buffer
	err = imaging.Encode(&buf, res.img, format)
	if err != nil {
		glog.Errorf("imaging.Encode(&buf, res.img, %v) %+v", format, err)
		c.RespondWithError(http.StatusInternalServerError)
		return
	}

	etag, err := h.SHA1([]byte(address))
	if err == nil {
		c.ResponseWriter.Header().Set("ETag", `"`+etag+`"`)
	}
	c.ResponseWriter.Header().Set("Content-Type", contentType)
	c.ResponseWriter.Header().Set("Cache-Control", "public, max-age=300")

	c.WriteResponse(buf.Bytes(), http.StatusOK)
}
