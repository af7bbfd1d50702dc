package util

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
)

// BenchmarkSplice measures throughput of the bidirectional splice that
// is the hot path for all bridged data.
func BenchmarkSplice(b *testing.B) {
	payload := bytes.Repeat([]byte("X"), DefaultBufSize)

	b.SetBytes(int64(len(payload)))
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		aNear, aFar := net.Pipe()
		bNear, bFar := net.Pipe()

		done := make(chan struct{})
		go func() {
			Splice(context.Background(), connStream(aNear), connStream(bNear), isClosed) //nolint:errcheck
			close(done)
		}()
		go func() {
			aFar.Write(payload) //nolint:errcheck
			aFar.Close()
		}()
		io.Copy(io.Discard, bFar) //nolint:errcheck
		bFar.Close()
		<-done
	}
}

// BenchmarkBufPool measures the allocation advantage of sync.Pool
// buffer reuse versus fresh allocation.
func BenchmarkBufPool(b *testing.B) {
	b.Run("pool", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			buf := GetBuf()
			_ = (*buf)[0]
			PutBuf(buf)
		}
	})
	b.Run("alloc", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			buf := make([]byte, DefaultBufSize)
			_ = buf[0]
		}
	})
}
