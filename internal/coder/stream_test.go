package coder

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyLineFallsBackToTextOnInvalidJSON(t *testing.T) {
	chunks := ClassifyLine([]byte("not json at all"))
	require.Len(t, chunks, 1)
	require.Equal(t, ChunkText, chunks[0].Kind)
	require.Equal(t, "not json at all", chunks[0].Text)
}

func TestClassifyLineIgnoresBlankLines(t *testing.T) {
	require.Empty(t, ClassifyLine([]byte("   ")))
	require.Empty(t, ClassifyLine([]byte("")))
}

func TestClassifyLineRecognizesTerminalEvent(t *testing.T) {
	chunks := ClassifyLine([]byte(`{"type":"result","subtype":"success"}`))
	require.Len(t, chunks, 1)
	require.Equal(t, ChunkTerminal, chunks[0].Kind)
}

func TestClassifyLineExtractsReasoningTextBlock(t *testing.T) {
	line := `{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"thinking about it"}]}}`
	chunks := ClassifyLine([]byte(line))
	require.Len(t, chunks, 1)
	require.Equal(t, ChunkReasoning, chunks[0].Kind)
	require.Equal(t, "thinking about it", chunks[0].Text)
}

func TestClassifyLineExtractsToolCall(t *testing.T) {
	line := `{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"bash","input":{"command":"ls"}}]}}`
	chunks := ClassifyLine([]byte(line))
	require.Len(t, chunks, 1)
	require.Equal(t, ChunkToolCall, chunks[0].Kind)
	require.Equal(t, "t1", chunks[0].ToolID)
	require.Equal(t, "bash", chunks[0].ToolName)
	require.Equal(t, "ls", chunks[0].ToolInput["command"])
}

func TestClassifyLineExtractsToolResultWithStringContent(t *testing.T) {
	line := `{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"file1\nfile2"}]}}`
	chunks := ClassifyLine([]byte(line))
	require.Len(t, chunks, 1)
	require.Equal(t, ChunkCommand, chunks[0].Kind)
	require.Equal(t, "t1", chunks[0].ToolID)
	require.Equal(t, "file1\nfile2", chunks[0].Text)
	require.False(t, chunks[0].IsError)
}

func TestClassifyLineExtractsToolResultWithStructuredContent(t *testing.T) {
	line := `{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":[{"type":"text","text":"nested"}],"is_error":true}]}}`
	chunks := ClassifyLine([]byte(line))
	require.Len(t, chunks, 1)
	require.Equal(t, ChunkCommand, chunks[0].Kind)
	require.True(t, chunks[0].IsError)
	require.Contains(t, chunks[0].Text, "nested")
}

func TestClassifyLineHandlesMultipleContentBlocksInOneEvent(t *testing.T) {
	line := `{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"first I'll check"},{"type":"tool_use","id":"t2","name":"grep","input":{}}]}}`
	chunks := ClassifyLine([]byte(line))
	require.Len(t, chunks, 2)
	require.Equal(t, ChunkReasoning, chunks[0].Kind)
	require.Equal(t, ChunkToolCall, chunks[1].Kind)
}

func TestClassifyLineRecognizedEventWithNoMessageSurfacesAsText(t *testing.T) {
	chunks := ClassifyLine([]byte(`{"type":"system","subtype":"init"}`))
	require.Len(t, chunks, 1)
	require.Equal(t, ChunkText, chunks[0].Kind)
}
