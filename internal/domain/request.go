package domain

import "net/http"

// Request is a decoded API request. Only Path and RawQuery drive routing.
type Request struct {
	Method   string
	Path     string
	RawQuery string
}

// Result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Result is the structured outcome of one request. The transport layer frames
// it as a JSON body with HTTPStatus as the response code.
type Result struct {
	HTTPStatus int    `json:"-"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	State      *Level `json:"state,omitempty"`
	PWM        *int   `json:"pwm,omitempty"`
	Timing     *int64 `json:"timing,omitempty"`
	Delay      *int64 `json:"delay,omitempty"`
	LocalTime  string `json:"localtime,omitempty"`
}

// OK reports whether the result represents success.
func (r Result) OK() bool { return r.Status == StatusSuccess }

// Success returns an empty success result; callers fill in one payload field.
func Success() Result {
	return Result{HTTPStatus: http.StatusOK, Status: StatusSuccess}
}

// Failure returns an error result with the given HTTP status and message.
func Failure(httpStatus int, message string) Result {
	return Result{HTTPStatus: httpStatus, Status: StatusError, Message: message}
}
