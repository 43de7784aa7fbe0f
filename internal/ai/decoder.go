package ai

import (
	"encoding/json"
	"io"
	"log"
	"strings"
)

// Delta is one incremental unit of streamed output parsed off the wire.
type Delta struct {
	Content   string
	Reasoning string
	Usage     *Usage
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			Reasoning string `json:"reasoning"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// maxFragmentBytes caps the partial line retained between chunks. A
// newline-free body would otherwise accumulate in memory for the whole
// stream.
const maxFragmentBytes = 1 << 20

// Decoder consumes an SSE-framed byte stream chunk by chunk. A chunk may
// end mid-line; the trailing fragment is held until the next chunk
// completes it.
type Decoder struct {
	rest string
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends one chunk and returns the deltas parsed from every line the
// chunk completed. Malformed payloads are logged and skipped; they never
// abort the stream.
func (d *Decoder) Feed(chunk []byte) []Delta {
	d.rest += string(chunk)

	lines := strings.Split(d.rest, "\n")
	d.rest = lines[len(lines)-1]
	if len(d.rest) > maxFragmentBytes {
		// The tail of the dropped line arrives as a garbage fragment later
		// and is skipped like any malformed line.
		log.Printf("sse: dropping oversized line fragment (%d bytes)", len(d.rest))
		d.rest = ""
	}

	var out []Delta
	for _, line := range lines[:len(lines)-1] {
		if delta, ok := d.parseLine(line); ok {
			out = append(out, delta)
		}
	}
	return out
}

func (d *Decoder) parseLine(line string) (Delta, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "data:") {
		// blank lines, comments, other SSE fields
		return Delta{}, false
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "" || payload == "[DONE]" {
		// end-of-stream is the body closing, not this token
		return Delta{}, false
	}

	var chunk streamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		log.Printf("sse: skipping malformed line err=%v", err)
		return Delta{}, false
	}

	delta := Delta{Usage: chunk.Usage}
	if len(chunk.Choices) > 0 {
		delta.Content = chunk.Choices[0].Delta.Content
		delta.Reasoning = chunk.Choices[0].Delta.Reasoning
	}
	return delta, true
}

// Decode drives the decoder over r until end-of-input, invoking fn for
// each delta. An fn error stops the read and is returned as-is.
func Decode(r io.Reader, fn func(Delta) error) error {
	d := NewDecoder()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, delta := range d.Feed(buf[:n]) {
				if ferr := fn(delta); ferr != nil {
					return ferr
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
