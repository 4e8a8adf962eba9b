// Package stream turns upstream SSE bytes into content and error chunks.
//
// Providers speak slightly different envelopes; the decoder understands the
// normalized {"content": ...} frame, OpenAI-style chat completion deltas and
// Gemini candidates, and treats anything else as noise.
package stream

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
)

// Kind tells a chunk's role in the stream.
type Kind int

const (
	KindContent Kind = iota
	KindError
	KindDone
)

// Chunk is a single decoded delta. It is consumed once and discarded.
type Chunk struct {
	Kind    Kind
	Text    string // KindContent
	Message string // KindError
}

// Annotation renders an upstream error the way it is folded into output.
func (c Chunk) Annotation() string {
	return "\n\n[Error: " + c.Message + "]"
}

// envelope covers every delta shape we accept from a provider.
type envelope struct {
	Choices    []openai.ChatCompletionStreamChoice `json:"choices"`
	Content    *string                             `json:"content"`
	Error      json.RawMessage                     `json:"error"`
	Candidates []struct {
		Content *struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Decoder assembles lines across arbitrary byte boundaries. It is not safe
// for concurrent use; one decoder belongs to one stream.
type Decoder struct {
	pending []byte // bytes of an incomplete UTF-8 sequence
	line    strings.Builder
}

// NewDecoder returns an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends newly arrived bytes and returns chunks for every line that
// became complete. A trailing partial line is held until the next call.
func (d *Decoder) Feed(p []byte) []Chunk {
	buf := append(d.pending, p...)
	d.pending = nil

	// hold back an incomplete rune so multi-byte characters split across
	// reads are not mangled
	cut := len(buf)
	for i := len(buf) - 1; i >= 0 && i >= len(buf)-utf8.UTFMax; i-- {
		if utf8.RuneStart(buf[i]) {
			if !utf8.FullRune(buf[i:]) {
				cut = i
			}
			break
		}
	}
	if cut < len(buf) {
		d.pending = append([]byte(nil), buf[cut:]...)
		buf = buf[:cut]
	}

	var out []Chunk
	text := string(buf)
	for {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			d.line.WriteString(text)
			break
		}
		d.line.WriteString(text[:i])
		line := d.line.String()
		d.line.Reset()
		if c, ok := DecodeLine(line); ok {
			out = append(out, c)
		}
		text = text[i+1:]
	}
	return out
}

// Close flushes a final line that never received its newline.
func (d *Decoder) Close() []Chunk {
	if len(d.pending) > 0 {
		d.line.Write(d.pending)
		d.pending = nil
	}
	line := d.line.String()
	d.line.Reset()
	if c, ok := DecodeLine(line); ok {
		return []Chunk{c}
	}
	return nil
}

// DecodeLine interprets one complete SSE line. The boolean is false for
// blank lines, non-data lines and payloads that do not decode.
func DecodeLine(line string) (Chunk, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || !strings.HasPrefix(trimmed, dataPrefix) {
		return Chunk{}, false
	}
	payload := strings.TrimSpace(trimmed[len(dataPrefix):])
	if payload == doneSentinel {
		return Chunk{Kind: KindDone}, true
	}

	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return Chunk{}, false
	}
	if msg, ok := errorMessage(env.Error); ok {
		return Chunk{Kind: KindError, Message: msg}, true
	}
	if text := env.text(); text != "" {
		return Chunk{Kind: KindContent, Text: text}, true
	}
	return Chunk{}, false
}

func (e *envelope) text() string {
	if e.Content != nil {
		return *e.Content
	}
	if len(e.Choices) > 0 {
		return e.Choices[0].Delta.Content
	}
	if len(e.Candidates) > 0 && e.Candidates[0].Content != nil {
		var sb strings.Builder
		for _, p := range e.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
		return sb.String()
	}
	return ""
}

func errorMessage(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			s = "Unknown stream error"
		}
		return s, true
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "Unknown stream error", true
	}
	if obj.Message == "" {
		obj.Message = "Unknown stream error"
	}
	return obj.Message, true
}
