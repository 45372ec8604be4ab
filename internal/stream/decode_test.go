package stream_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/flemzord/fanyi/internal/stream"
)

const (
	helloChunk = `data: {"choices":[{"delta":{"content":"Hello"}}]}` + "\n\n"
	worldChunk = `data: {"choices":[{"delta":{"content":" world"}}]}` + "\n\n"
)

func TestDecode_Terminator(t *testing.T) {
	t.Parallel()

	body := helloChunk + "data: [DONE]\n\n" + worldChunk
	var got []string
	res, err := stream.Decode(context.Background(), iotest.OneByteReader(strings.NewReader(body)), func(ev stream.Event) {
		got = append(got, ev.Text)
	})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !res.IsComplete || !res.Terminated {
		t.Errorf("result = %+v, want complete and terminated", res)
	}
	if res.Content != "Hello" || len(got) != 1 {
		t.Errorf("content = %q, events = %v", res.Content, got)
	}
}

func TestDecode_CleanEOF(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		require bool
		want    bool
	}{
		{"clean end completes", false, true},
		{"terminator required", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := stream.NewDecoder(nil)
			d.RequireTerminator = tt.require
			res, err := d.Decode(context.Background(), strings.NewReader(helloChunk+worldChunk), nil)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if res.IsComplete != tt.want {
				t.Errorf("IsComplete = %v, want %v", res.IsComplete, tt.want)
			}
			if res.Terminated {
				t.Error("Terminated = true without terminator line")
			}
			if res.Content != "Hello world" {
				t.Errorf("Content = %q", res.Content)
			}
		})
	}
}

func TestDecode_EOFFlushesUnterminatedLine(t *testing.T) {
	t.Parallel()

	body := `data: {"choices":[{"delta":{"content":"last"}}]}`
	res, err := stream.Decode(context.Background(), strings.NewReader(body), nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if res.Content != "last" || !res.IsComplete {
		t.Errorf("result = %+v", res)
	}
}

func TestDecode_CancellationReturnsPartial(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pr, pw := io.Pipe()
	go func() {
		_, _ = pw.Write([]byte(helloChunk))
	}()

	var events int
	res, err := stream.Decode(ctx, pr, func(stream.Event) {
		events++
		cancel()
		_ = pw.CloseWithError(context.Canceled)
	})
	if err != nil {
		t.Fatalf("Decode returned error on cancellation: %v", err)
	}
	if !res.Cancelled || res.IsComplete {
		t.Errorf("result = %+v, want cancelled and incomplete", res)
	}
	if res.Content != "Hello" || events != 1 {
		t.Errorf("partial = %q after %d events", res.Content, events)
	}
}

func TestDecode_CancelledBeforeStart(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := stream.Decode(ctx, strings.NewReader(helloChunk), nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !res.Cancelled || res.Content != "" {
		t.Errorf("result = %+v", res)
	}
}

func TestDecode_TransportError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	r := io.MultiReader(strings.NewReader(helloChunk), iotest.ErrReader(boom))

	res, err := stream.Decode(context.Background(), r, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if res.IsComplete || res.Cancelled {
		t.Errorf("result = %+v, want incomplete, not cancelled", res)
	}
	if res.Content != "Hello" {
		t.Errorf("partial content = %q", res.Content)
	}
}
