package wire

import "errors"

// errShortMessage means a decoded LN message payload was shorter than its
// own declared field lengths.
var errShortMessage = errors.New("wire: message payload too short")
