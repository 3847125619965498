package errors

import (
	"fmt"
	"net/http"
)

/*
* Error codes describe why a fetch did not produce an image. Callers of the
* fetch core only ever see a boolean failure flag, the codes exist for the
* logs and for the HTTP surface, where each maps onto a status code.
 */

const (
	// HTTP 400 Bad Request.
	// The address is not an absolute http or https URL.
	InvalidAddress ErrCode = 1

	// HTTP 502 Bad Gateway.
	// The origin could not be reached or the transfer broke off.
	NetworkFailure ErrCode = 2
	// The origin answered with a status outside 2xx.
	BadStatus ErrCode = 3
	// The origin sent a body that could not be decoded as an image.
	DecodeFailure ErrCode = 4

	// HTTP 413 Request Entity Too Large.
	// The body exceeded the configured limit.
	BodyTooLarge ErrCode = 5
)

// ErrCode identifies a class of fetch failure
type ErrCode uint8

func (c ErrCode) String() string {
	switch c {
	case InvalidAddress:
		return "invalid address"
	case NetworkFailure:
		return "network failure"
	case BadStatus:
		return "bad status"
	case DecodeFailure:
		return "decode failure"
	case BodyTooLarge:
		return "body too large"
	default:
		return fmt.Sprintf("code %d", uint8(c))
	}
}

// HTTPStatus returns the status code a handler should answer with. Only
// InvalidAddress is returned to a caller synchronously, the other codes reach
// the HTTP surface as a failed callback and are answered as bad gateway.
func (c ErrCode) HTTPStatus() int {
	switch c {
	case InvalidAddress:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

// FetchError implements the Error interface.
type FetchError struct {
	Address      string  `json:"address"`
	Function     string  `json:"-"`
	ErrorCode    ErrCode `json:"errorCode"`
	StatusCode   int     `json:"statusCode,omitempty"`
	ErrorMessage string  `json:"errorDetail"`
	Err          error   `json:"-"`
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Address, e.ErrorMessage, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Address, e.ErrorMessage)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func New(address string, function string, errCode ErrCode, errMessage string) error {
	return &FetchError{
		Address:      address,
		Function:     function,
		ErrorCode:    errCode,
		ErrorMessage: errMessage,
	}
}

// Wrap records err as the cause of a fetch failure
func Wrap(err error, address string, function string, errCode ErrCode) error {
	return &FetchError{
		Address:      address,
		Function:     function,
		ErrorCode:    errCode,
		ErrorMessage: errCode.String(),
		Err:          err,
	}
}

// Status records an origin answering outside 2xx
func Status(address string, function string, statusCode int) error {
	return &FetchError{
		Address:      address,
		Function:     function,
		ErrorCode:    BadStatus,
		StatusCode:   statusCode,
		ErrorMessage: fmt.Sprintf("origin answered %d", statusCode),
	}
}

// Code returns the ErrCode carried by err, or 0 if it carries none
func Code(err error) ErrCode {
	for err != nil {
		if fe, ok := err.(*FetchError); ok {
			return fe.ErrorCode
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 0
		}
		err = u.Unwrap()
	}
	return 0
}
