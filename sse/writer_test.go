package sse

import (
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterHeadersAndFrames(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.Send("progress", map[string]any{"model": "m1"}))
	require.NoError(t, w.SendData(map[string]any{"text": "hello"}))
	require.NoError(t, w.Done())

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: progress\ndata: {\"model\":\"m1\"}\n\n")
	assert.Contains(t, body, "data: {\"text\":\"hello\"}\n\n")
	assert.Contains(t, body, "data: [DONE]\n\n")
}

func TestWriterRejectsUnmarshalablePayload(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	assert.Error(t, w.Send("bad", make(chan int)))
	assert.Empty(t, rec.Body.String())
}

// Concurrent senders must never interleave within a frame.
func TestWriterSerializesConcurrentSends(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = w.Send("tick", map[string]int{"n": n})
		}(i)
	}
	wg.Wait()

	body := rec.Body.String()
	for i := 0; i < 20; i++ {
		assert.Contains(t, body, fmt.Sprintf("data: {\"n\":%d}\n\n", i))
	}
}
