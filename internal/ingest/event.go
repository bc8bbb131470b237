// Package ingest - event.go defines the completion-event input contract.
//
// DESIGN: The host runtime delivers loosely structured JSON after each agent
// turn. Rather than passing raw maps around, the payload is adapted once,
// with gjson, into a narrow typed Event that the tracker consumes.
// Unknown fields are ignored and missing fields default to zero values; a
// malformed payload yields an event with no messages, which the tracker
// treats as "nothing to meter".
package ingest

import (
	"github.com/tidwall/gjson"
)

// Event is one completion event: the transcript visible at turn end plus the
// turn duration.
type Event struct {
	Messages   []Message
	DurationMs int64
}

// Context carries the session identity the host attaches to an event.
type Context struct {
	SessionKey string
}

// Message is one transcript entry.
type Message struct {
	Role   string
	Model  string
	Text   string // flattened text content
	Blocks []Block
	Usage  *Usage
}

// Block is one structured content block of an assistant message.
type Block struct {
	Type     string // "text", "toolCall", "tool_use", "thinking"
	Name     string // tool name for tool blocks
	Text     string
	Thinking string
}

// Usage is the provider-reported token accounting for one message.
type Usage struct {
	Input      int
	Output     int
	CacheRead  int
	CacheWrite int
	CostTotal  float64 // provider-reported USD, 0 if absent
}

// ParseEvent adapts a raw host payload into the typed contract. Never fails:
// anything unrecognizable is dropped field-by-field.
func ParseEvent(raw []byte) Event {
	var ev Event
	ev.DurationMs = gjson.GetBytes(raw, "durationMs").Int()

	gjson.GetBytes(raw, "messages").ForEach(func(_, m gjson.Result) bool {
		ev.Messages = append(ev.Messages, parseMessage(m))
		return true
	})
	return ev
}

func parseMessage(m gjson.Result) Message {
	msg := Message{
		Role:  m.Get("role").String(),
		Model: m.Get("model").String(),
	}

	if u := m.Get("usage"); u.Exists() {
		msg.Usage = &Usage{
			Input:      int(u.Get("input").Int()),
			Output:     int(u.Get("output").Int()),
			CacheRead:  int(u.Get("cacheRead").Int()),
			CacheWrite: int(u.Get("cacheWrite").Int()),
			CostTotal:  u.Get("cost.total").Float(),
		}
	}

	content := m.Get("content")
	switch {
	case content.Type == gjson.String:
		msg.Text = content.String()
	case content.IsArray():
		content.ForEach(func(_, b gjson.Result) bool {
			block := Block{
				Type:     b.Get("type").String(),
				Name:     b.Get("name").String(),
				Text:     b.Get("text").String(),
				Thinking: b.Get("thinking").String(),
			}
			msg.Blocks = append(msg.Blocks, block)
			if block.Text != "" {
				msg.Text += block.Text
			}
			return true
		})
	}
	return msg
}
