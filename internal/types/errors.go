package types

import "errors"

// Image request failures reported back to the host collaborator. None of
// these affect the session serving the request.
var (
	ErrUnsupportedFormat = errors.New("image format not decodable")
	ErrUnknownDevice     = errors.New("device not registered")
	ErrSizeMismatch      = errors.New("image dimensions do not match key spec")
)

// ErrSessionClosed is returned for requests that were in flight when a
// session reached Closing. Requests are failed, never silently dropped.
var ErrSessionClosed = errors.New("device session closed")
