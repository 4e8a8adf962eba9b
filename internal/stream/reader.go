package stream

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrIdleTimeout is returned when the upstream sends nothing for too long.
var ErrIdleTimeout = errors.New("stream: no data received before idle timeout")

const readBufferSize = 32 * 1024

type readResult struct {
	data []byte
	err  error
}

// Read pumps r through a Decoder and sends every chunk to out, in order.
// out is closed when Read returns. A connection that closes without a
// [DONE] line is treated as if it had sent one. An idleTimeout of zero
// disables the idle check.
//
// Read does not close r; callers close it, which also unblocks the
// background reader when ctx is cancelled.
func Read(ctx context.Context, r io.Reader, idleTimeout time.Duration, out chan<- Chunk) error {
	defer close(out)

	reads := make(chan readResult)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		for {
			buf := make([]byte, readBufferSize)
			n, err := r.Read(buf)
			select {
			case reads <- readResult{data: buf[:n], err: err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var idle <-chan time.Time
	var timer *time.Timer
	if idleTimeout > 0 {
		timer = time.NewTimer(idleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	dec := NewDecoder()
	emit := func(chunks []Chunk) (bool, error) {
		for _, c := range chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return false, ctx.Err()
			}
			if c.Kind == KindDone {
				return true, nil
			}
		}
		return false, nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle:
			return ErrIdleTimeout
		case res := <-reads:
			if timer != nil {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(idleTimeout)
			}
			if len(res.data) > 0 {
				done, err := emit(dec.Feed(res.data))
				if err != nil || done {
					return err
				}
			}
			if res.err == nil {
				continue
			}
			if !errors.Is(res.err, io.EOF) {
				return res.err
			}
			done, err := emit(dec.Close())
			if err != nil || done {
				return err
			}
			_, err = emit([]Chunk{{Kind: KindDone}})
			return err
		}
	}
}
