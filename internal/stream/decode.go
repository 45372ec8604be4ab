package stream

import (
	"context"
	"errors"
	"io"
)

// readBufferSize is the size of each transport read.
const readBufferSize = 4 * 1024

// Decode drives the decoder over r until the terminator line, the end of
// the transport, a read error, or cancellation of ctx. emit is called
// synchronously for every delta and must not block.
//
// Cancellation is not an error: Decode returns the partial aggregate with
// Cancelled set and a nil error. Read errors that are not caused by
// cancellation are returned together with the partial aggregate.
func (d *Decoder) Decode(ctx context.Context, r io.Reader, emit func(Event)) (Result, error) {
	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			return d.cancelled(), nil
		}

		n, err := r.Read(buf)
		if n > 0 {
			if ctx.Err() != nil {
				return d.cancelled(), nil
			}
			if d.Feed(buf[:n], emit) {
				return d.Result(), nil
			}
		}

		switch {
		case err == nil:
			continue
		case ctx.Err() != nil:
			return d.cancelled(), nil
		case errors.Is(err, io.EOF):
			d.Finish(emit)
			res := d.Result()
			res.IsComplete = res.Terminated || !d.RequireTerminator
			if !res.Terminated {
				d.logger.Debug("stream: transport ended without terminator",
					"require_terminator", d.RequireTerminator)
			}
			return res, nil
		default:
			return d.Result(), err
		}
	}
}

func (d *Decoder) cancelled() Result {
	res := d.Result()
	res.IsComplete = false
	res.Cancelled = true
	return res
}

// Decode decodes r with a fresh Decoder and the default logger.
func Decode(ctx context.Context, r io.Reader, emit func(Event)) (Result, error) {
	return NewDecoder(nil).Decode(ctx, r, emit)
}
