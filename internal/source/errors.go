package source

import "fmt"

// NetworkError is a transport-level fetch failure. Transient errors are
// retried up to the configured budget; the rest fail fast.
type NetworkError struct {
	Transient bool
	Err       error
}

func (e *NetworkError) Error() string {
	if e.Transient {
		return fmt.Sprintf("network error (transient): %v", e.Err)
	}
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// HTTPStatusError is a non-2xx CDN response.
type HTTPStatusError struct {
	Code int
	URL  string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http %d from %s", e.Code, e.URL)
}

// Transient reports whether the status is worth retrying. Server errors
// and throttling are; any other 4xx means the range is not there and a
// retry cannot change that.
func (e *HTTPStatusError) Transient() bool {
	switch {
	case e.Code >= 500:
		return true
	case e.Code == 429 || e.Code == 408:
		return true
	default:
		return false
	}
}
