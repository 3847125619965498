package controller

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
)

// Context carries a single request through a controller
type Context struct {
	Request        *http.Request
	ResponseWriter http.ResponseWriter
	RouteVars      map[string]string
	StartTime      time.Time
}

// StandardResponse is the envelope every JSON response is wrapped in
type StandardResponse struct {
	Context string      `json:"context"`
	Status  int         `json:"status"`
	Data    interface{} `json:"data"`
	Errors  []string    `json:"error"`
}

// MakeContext wraps the request and response
func MakeContext(request *http.Request, responseWriter http.ResponseWriter) *Context {
	return &Context{
		Request:        request,
		ResponseWriter: responseWriter,
		RouteVars:      mux.Vars(request),
		StartTime:      time.Now(),
	}
}

// GetHTTPMethod returns the request method, honouring X-HTTP-Method-Override
// on POST for clients that cannot send DELETE
func (c *Context) GetHTTPMethod() string {
	m := c.Request.Method

	if m == "POST" {
		if c.Request.Header.Get("X-HTTP-Method-Override") != "" {
			m = strings.ToUpper(c.Request.Header.Get("X-HTTP-Method-Override"))
		}
		if c.Request.URL.Query().Get("method") != "" {
			m = strings.ToUpper(c.Request.URL.Query().Get("method"))
		}

		switch m {
		case "DELETE":
		case "GET":
		case "HEAD":
		case "OPTIONS":
		case "POST":
		default:
			// If it wasn't one of the above then let's just use what we know
			// is safe
			return c.Request.Method
		}
	}

	return m
}

// Respond writes data and errors as a StandardResponse
func (c *Context) Respond(data interface{}, statusCode int, errors []string) error {
	obj := StandardResponse{
		Context: c.Request.URL.Query().Get("context"),
		Status:  statusCode,
		Data:    data,
		Errors:  errors,
	}

	// Prevent content type detection, a.k.a. sniffing
	c.ResponseWriter.Header().Set("Content-Type", "application/json")
	c.ResponseWriter.Header().Set("Cache-Control", "no-cache, max-age=0")

	output, err := json.Marshal(obj)
	if err != nil {
		http.Error(c.ResponseWriter, err.Error(), http.StatusInternalServerError)
		return err
	}

	return c.WriteResponse(output, statusCode)
}

// WriteResponse ultimately does the job of writing the response
func (c *Context) WriteResponse(output []byte, statusCode int) error {
	// Prevent chunking
	c.ResponseWriter.Header().Set("Content-Length", strconv.Itoa(len(output)))
	c.ResponseWriter.WriteHeader(statusCode)

	// HEAD requests return no body
	if c.GetHTTPMethod() == "HEAD" {
		return nil
	}

	_, err := c.ResponseWriter.Write(output)
	if err != nil {
		// "broken pipe" means the client went away, which is expected
		opErr, ok := err.(*net.OpError)
		if !ok || opErr.Err != syscall.EPIPE {
			glog.Errorf(
				"Error writing %s response to %s : %+v\n",
				c.GetHTTPMethod(),
				c.Request.URL.String(),
				err,
			)
		} else {
			glog.Warningf(
				"Error writing %s response to %s : %+v\n",
				c.GetHTTPMethod(),
				c.Request.URL.String(),
				err,
			)
		}
		return err
	}

	if glog.V(3) {
		glog.Infof("%s %s %d in %s", c.GetHTTPMethod(), c.Request.URL.Path,
			statusCode, time.Since(c.StartTime))
	}

	return nil
}

// RespondWithOptions answers an OPTIONS request
func (c *Context) RespondWithOptions(options []string) error {
	c.ResponseWriter.Header().Set("Allow", strings.Join(options, ","))
	c.ResponseWriter.Header().Set("Content-Length", "0")
	c.ResponseWriter.WriteHeader(http.StatusOK)
	return nil
}

// RespondWithStatus responds with custom status code and an empty
// StandardResponse struct
func (c *Context) RespondWithStatus(statusCode int) error {
	return c.Respond(nil, statusCode, nil)
}

// RespondWithError responds with the status code and its description
func (c *Context) RespondWithError(statusCode int) error {
	return c.RespondWithErrorMessage(http.StatusText(statusCode), statusCode)
}

// RespondWithErrorMessage responds with custom code and an error message
func (c *Context) RespondWithErrorMessage(message string, statusCode int) error {
	return c.Respond(nil, statusCode, []string{message})
}

// RespondWithErrorDetail responds with detailed error code and message in the
// "data" object.
func (c *Context) RespondWithErrorDetail(err error, statusCode int) error {
	return c.Respond(err, statusCode, []string{err.Error()})
}

// RespondWithData responds with the specified data
func (c *Context) RespondWithData(data interface{}) error {
	return c.Respond(data, http.StatusOK, nil)
}

// RespondWithOK responds with OK status (200) and no data
func (c *Context) RespondWithOK() error {
	return c.RespondWithData(nil)
}
