package util

import (
	"context"
	"io"
	"sync"
)

// DefaultBufSize is the standard buffer size for network I/O (32 KiB).
const DefaultBufSize = 32 * 1024

// Stream is one side of a splice.  Reads come from Reader and writes go
// to Writer, which lets callers interpose filters or counters while
// Closer still tears down the underlying connection.
type Stream struct {
	io.Reader
	io.Writer
	io.Closer
}

// Splice shuttles bytes between a and b in both directions until either
// direction ends or ctx is cancelled.  Both streams are closed before
// it returns.  The first error that is not a normal teardown is
// returned; harmless reports whether an error counts as normal.
func Splice(ctx context.Context, a, b Stream, harmless func(error) bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	pump := func(dst io.Writer, src io.Reader) {
		defer wg.Done()
		_, err := CopyBuffered(dst, src)
		errCh <- err
		cancel()
	}

	wg.Add(2)
	go pump(b, a) // a → b
	go pump(a, b) // b → a

	<-ctx.Done()
	// Closing both sides unblocks whichever pump is still waiting.
	a.Close() //nolint:errcheck
	b.Close() //nolint:errcheck
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil && (harmless == nil || !harmless(err)) {
			return err
		}
	}
	return nil
}
