package kernel

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

// CountTokens returns the token count of text for the given model, or -1 when
// no encoding is available. Used for debug logging only, so failures are
// swallowed.
func CountTokens(model, text string) int {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoderOnce.Do(func() {
			encoder, _ = tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		})
		enc = encoder
	}
	if enc == nil {
		return -1
	}
	return len(enc.Encode(text, nil, nil))
}
