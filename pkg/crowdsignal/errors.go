package crowdsignal

import "errors"

var (
	errInvalidSide   = errors.New("crowdsignal: invalid side")
	errInvalidAction = errors.New("crowdsignal: invalid action")
)
