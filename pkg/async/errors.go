package async

import "errors"

// ErrTimeout is returned when AwaitWithTimeout elapses before completion.
var ErrTimeout = errors.New("async: await timed out")
