package audiodevice

import "errors"

var errClosed = errors.New("audiodevice: device closed")
