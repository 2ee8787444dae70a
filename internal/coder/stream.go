// Package coder implements spec §6's agent child-process contract: an
// external coding agent is a long-running process whose stdout is one JSON
// object per line ("stream-json"), discriminated by a "type" field into
// tool/command events, reasoning events, and a terminal event, falling
// back to plain text when a line isn't JSON. Stderr is forwarded verbatim.
//
// The NDJSON shape is adapted directly from
// vsavkov-kilroy/internal/attractor/engine/cli_stream_parser.go's Claude
// CLI `--output-format stream-json` parser.
package coder

import (
	"bytes"
	"encoding/json"
)

// ChunkKind discriminates a parsed stream-json event.
type ChunkKind string

const (
	ChunkReasoning ChunkKind = "reasoning" // assistant narration (content block type "text")
	ChunkToolCall  ChunkKind = "tool_call" // assistant invoking a tool (content block type "tool_use")
	ChunkCommand   ChunkKind = "command"   // a tool's result fed back to the agent (content block type "tool_result")
	ChunkTerminal  ChunkKind = "terminal"  // the stream's terminal event (top-level type "result")
	ChunkText      ChunkKind = "text"      // plain-text fallback for a non-JSON line
)

// Chunk is one classified unit from the agent's stdout stream.
type Chunk struct {
	Kind      ChunkKind
	Text      string
	ToolName  string
	ToolID    string
	ToolInput map[string]any
	IsError   bool
	Raw       json.RawMessage
}

type streamEvent struct {
	Type    string        `json:"type"`
	Message *streamMessage `json:"message,omitempty"`
}

type streamMessage struct {
	Role    string         `json:"role,omitempty"`
	Content []contentBlock `json:"content,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"-"`
	IsError   bool   `json:"is_error,omitempty"`
}

// ClassifyLine parses one NDJSON line into zero or more Chunks. A line that
// fails to parse as JSON becomes a single ChunkText chunk (spec §6 "fall
// back to plain text when the stream is not JSON").
func ClassifyLine(line []byte) []Chunk {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil
	}

	var ev streamEvent
	if err := json.Unmarshal(trimmed, &ev); err != nil {
		return []Chunk{{Kind: ChunkText, Text: string(trimmed)}}
	}

	if ev.Type == "result" {
		return []Chunk{{Kind: ChunkTerminal, Raw: json.RawMessage(trimmed)}}
	}

	if ev.Message == nil {
		// A recognized but content-less event (e.g. "system" init); surface
		// it as plain text rather than silently dropping it.
		return []Chunk{{Kind: ChunkText, Text: string(trimmed), Raw: json.RawMessage(trimmed)}}
	}

	fillToolResultContent(trimmed, ev.Message)

	var chunks []Chunk
	for _, block := range ev.Message.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				chunks = append(chunks, Chunk{Kind: ChunkReasoning, Text: block.Text})
			}
		case "tool_use":
			chunks = append(chunks, Chunk{Kind: ChunkToolCall, ToolID: block.ID, ToolName: block.Name, ToolInput: block.Input})
		case "tool_result":
			chunks = append(chunks, Chunk{Kind: ChunkCommand, ToolID: block.ToolUseID, Text: block.Content, IsError: block.IsError})
		}
	}
	return chunks
}

// fillToolResultContent re-parses the raw line to recover tool_result
// blocks' "content" field, which the Claude CLI emits as either a plain
// string or a structured array — normalized here to a string, the same
// workaround the teacher's parser applies.
func fillToolResultContent(raw []byte, msg *streamMessage) {
	var envelope struct {
		Message struct {
			Content []json.RawMessage `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}
	for i, rawBlock := range envelope.Message.Content {
		if i >= len(msg.Content) || msg.Content[i].Type != "tool_result" {
			continue
		}
		var block struct {
			Content any `json:"content"`
		}
		if err := json.Unmarshal(rawBlock, &block); err != nil {
			continue
		}
		switch v := block.Content.(type) {
		case string:
			msg.Content[i].Content = v
		default:
			b, _ := json.Marshal(v)
			msg.Content[i].Content = string(b)
		}
	}
}
