package helpers

import (
	"net/url"
	"strings"

	e "github.com/microcosm-cc/imagecache/errors"
)

// ParseAddress checks that address is something a single GET can fetch: an
// absolute http or https URL with a host
func ParseAddress(address string) (*url.URL, error) {
	if strings.TrimSpace(address) == "" {
		return nil, e.New(address, "ParseAddress", e.InvalidAddress, "address is empty")
	}

	u, err := url.Parse(address)
	if err != nil {
		return nil, e.Wrap(err, address, "url.Parse", e.InvalidAddress)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, e.New(address, "ParseAddress", e.InvalidAddress,
			"scheme must be http or https")
	}

	if u.Hostname() == "" {
		return nil, e.New(address, "ParseAddress", e.InvalidAddress,
			"address has no host")
	}

	return u, nil
}
