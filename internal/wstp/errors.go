package wstp

import "errors"

var (
	ErrClosed      = errors.New("wstp: closed")
	ErrHandshake   = errors.New("wstp: connection not acknowledged")
	ErrDuplicateID = errors.New("wstp: subscription id already active")
)
