package channel

import "errors"

// Sentinel errors for channel operations. Check them with errors.Is.
var (
	// ErrClosed indicates the channel was closed and holds no more items.
	// A producer closing its channel is the end-of-stream sentinel.
	ErrClosed = errors.New("channel closed")

	// ErrRecvTimeout indicates nothing arrived within the receive timeout
	ErrRecvTimeout = errors.New("receive timed out")

	// ErrSendTimeout indicates a blocking send could not complete in time
	ErrSendTimeout = errors.New("send timed out")
)
