package fetch

import (
	"bytes"
	"context"
	"image"
	"io"

	"golang.org/x/net/context/ctxhttp"

	e "github.com/microcosm-cc/imagecache/errors"
)

// fetch performs the single GET for address and decodes the body
func (co *Coordinator) fetch(address string) (image.Image, error) {
	ctx := context.Background()
	if co.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, co.timeout)
		defer cancel()
	}

	resp, err := ctxhttp.Get(ctx, co.client, address)
	if err != nil {
		return nil, e.Wrap(err, address, "ctxhttp.Get", e.NetworkFailure)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Read what was sent so the connection can be reused
		io.Copy(io.Discard, io.LimitReader(resp.Body, co.maxBodyBytes))
		return nil, e.Status(address, "ctxhttp.Get", resp.StatusCode)
	}

	if resp.ContentLength > co.maxBodyBytes {
		return nil, e.New(address, "fetch", e.BodyTooLarge,
			"declared content length exceeds the limit")
	}

	content, exceeded, err := readLimited(resp.Body, co.maxBodyBytes)
	if err != nil {
		return nil, e.Wrap(err, address, "readLimited", e.NetworkFailure)
	}
	if exceeded {
		return nil, e.New(address, "fetch", e.BodyTooLarge, "body exceeds the limit")
	}

	img, err := co.decoder.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, e.Wrap(err, address, "decoder.Decode", e.DecodeFailure)
	}

	return img, nil
}

// readLimited reads all of r, reporting exceeded when r holds more than max
// bytes
func readLimited(r io.Reader, max int64) (content []byte, exceeded bool, err error) {
	content, err = io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(content)) > max {
		return nil, true, nil
	}

	return content, false, nil
}
