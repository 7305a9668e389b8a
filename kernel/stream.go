package kernel

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/promptforge/promptd/providers"
)

// StreamToken is a single text delta from a streaming completion.
type StreamToken struct {
	// Text is the delta text.
	Text string

	// Index is the position of this token in the stream.
	Index int
}

// TokenStream is a lazy sequence of text deltas. Next returns io.EOF when the
// stream is finished.
type TokenStream interface {
	Next(ctx context.Context) (*StreamToken, error)
	io.Closer
}

// Event is one Server-Sent Events frame read off the wire.
type Event struct {
	Type string
	Data []byte
}

// SSEDecoder splits an SSE response body into events.
type SSEDecoder struct {
	reader  *bufio.Scanner
	current Event
}

func NewSSEDecoder(reader io.Reader) *SSEDecoder {
	return &SSEDecoder{reader: bufio.NewScanner(reader)}
}

// Next advances to the next event. It returns false when the body is
// exhausted.
func (d *SSEDecoder) Next() bool {
	event := ""
	data := bytes.NewBuffer(nil)

	for d.reader.Scan() {
		line := d.reader.Bytes()

		// Dispatch event on empty line.
		if len(line) == 0 {
			d.current = Event{Type: event, Data: data.Bytes()}
			return true
		}

		name, value, _ := bytes.Cut(line, []byte(":"))
		if len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}

		switch string(name) {
		case "":
			continue // comment line
		case "event":
			event = string(value)
		case "data":
			data.Write(value)
			data.WriteRune('\n')
		}
	}

	return false
}

func (d *SSEDecoder) Event() Event {
	return d.current
}

// sseTokenStream adapts a streaming HTTP response body into a TokenStream,
// delegating chunk parsing to the provider.
type sseTokenStream struct {
	body     io.ReadCloser
	decoder  *SSEDecoder
	provider providers.Provider
	index    int
}

func newSSETokenStream(body io.ReadCloser, provider providers.Provider) *sseTokenStream {
	return &sseTokenStream{
		body:     body,
		decoder:  NewSSEDecoder(body),
		provider: provider,
	}
}

func (s *sseTokenStream) Next(ctx context.Context) (*StreamToken, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.decoder.Next() {
			return nil, io.EOF
		}

		data := strings.TrimSpace(string(s.decoder.Event().Data))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return nil, io.EOF
		}

		delta, err := s.provider.ParseStreamResponse([]byte(data))
		if err != nil {
			return nil, NewError(ErrorTypeResponse, "failed to parse stream chunk", err)
		}
		if delta == "" {
			continue
		}

		token := &StreamToken{Text: delta, Index: s.index}
		s.index++
		return token, nil
	}
}

func (s *sseTokenStream) Close() error {
	return s.body.Close()
}

// Collect drains a TokenStream into a single string.
func Collect(ctx context.Context, stream TokenStream) (string, error) {
	defer stream.Close()

	var sb strings.Builder
	for {
		token, err := stream.Next(ctx)
		if err == io.EOF {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(token.Text)
	}
}
