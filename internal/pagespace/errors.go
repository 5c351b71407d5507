package pagespace

import "errors"

var (
	errAlreadyMapped = errors.New("pagespace: address already mapped")
	errNotMapped     = errors.New("pagespace: address not mapped")
)
