package anthropic

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/tzgateway/gateway/provider"
	"github.com/tzgateway/gateway/tzerr"
	"github.com/tzgateway/gateway/types"
)

// streamer adapts an Anthropic Messages SSE stream into provider.Streamer,
// translating content_block_delta/message_delta events into provider.Chunk
// values in arrival order, mirroring the teacher's anthropicStreamer.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]

	chunks chan provider.Chunk

	jsonMode bool

	errMu    sync.Mutex
	finalErr error

	startedAt time.Time
	ttft      atomic.Int64 // milliseconds, -1 until first chunk

	// activeTool tracks the in-flight tool_use block while its input_json
	// delta fragments accumulate, so the final ToolCall chunk can carry the
	// fully assembled arguments.
	activeTool   *types.ToolCallPart
	activeToolID string
	argBuf       []byte
}

func newStreamer(ctx context.Context, s *ssestream.Stream[sdk.MessageStreamEventUnion], jsonMode bool) provider.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	st := &streamer{
		ctx:       cctx,
		cancel:    cancel,
		stream:    s,
		chunks:    make(chan provider.Chunk, 32),
		jsonMode:  jsonMode,
		startedAt: time.Now(),
	}
	st.ttft.Store(-1)
	go st.run()
	return st
}

func (s *streamer) TTFTMillis() int64 { return s.ttft.Load() }

func (s *streamer) Recv() (provider.Chunk, error) {
	select {
	case c, ok := <-s.chunks:
		if ok {
			if s.ttft.Load() == -1 {
				s.ttft.Store(time.Since(s.startedAt).Milliseconds())
			}
			return c, nil
		}
		if err := s.err(); err != nil {
			return provider.Chunk{}, err
		}
		return provider.Chunk{}, io.EOF
	case <-s.ctx.Done():
		err := s.ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		s.setErr(err)
		return provider.Chunk{}, err
	}
}

func (s *streamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *streamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}

func (s *streamer) setErr(err error) {
	s.errMu.Lock()
	if s.finalErr == nil {
		s.finalErr = err
	}
	s.errMu.Unlock()
}

func (s *streamer) run() {
	defer close(s.chunks)
	for s.stream.Next() {
		ev := s.stream.Current()
		s.handleEvent(ev)
	}
	if err := s.stream.Err(); err != nil && !errors.Is(err, io.EOF) {
		s.setErr(tzerr.New(tzerr.KindInferenceServer, "anthropic stream", err, nil))
	}
}

func (s *streamer) emit(c provider.Chunk) {
	select {
	case s.chunks <- c:
	case <-s.ctx.Done():
	}
}

func (s *streamer) handleEvent(ev sdk.MessageStreamEventUnion) {
	switch ev.Type {
	case "content_block_start":
		block := ev.ContentBlock
		if block.Type == "tool_use" {
			s.activeToolID = block.ID
			name := block.Name
			s.activeTool = &types.ToolCallPart{ID: block.ID, Name: name}
			s.argBuf = s.argBuf[:0]
		}
	case "content_block_delta":
		delta := ev.Delta
		switch delta.Type {
		case "text_delta":
			if delta.Text != "" && !s.jsonMode {
				s.emit(provider.Chunk{Type: provider.ChunkTypeText, Text: delta.Text})
			}
		case "input_json_delta":
			s.argBuf = append(s.argBuf, []byte(delta.PartialJSON)...)
			if s.activeTool != nil {
				s.emit(provider.Chunk{
					Type:      provider.ChunkTypeToolDelta,
					ToolDelta: &provider.ToolCallDelta{ID: s.activeTool.ID, Name: s.activeTool.Name, Delta: delta.PartialJSON},
				})
			}
		case "thinking_delta":
			// Thinking deltas are not re-emitted as text chunks; the final
			// thinking block's signature is only meaningful once complete.
		}
	case "content_block_stop":
		if s.activeTool != nil {
			s.activeTool.RawArgs = append([]byte(nil), s.argBuf...)
			if s.jsonMode && s.activeTool.Name == jsonToolName {
				s.emit(provider.Chunk{Type: provider.ChunkTypeText, Text: string(s.activeTool.RawArgs)})
			} else {
				s.emit(provider.Chunk{Type: provider.ChunkTypeToolCall, ToolCall: s.activeTool})
			}
			s.activeTool = nil
			s.argBuf = nil
		}
	case "message_delta":
		if ev.Delta.StopReason != "" {
			s.emit(provider.Chunk{Type: provider.ChunkTypeStop, FinishReason: mapStopReason(string(ev.Delta.StopReason))})
		}
		if u := ev.Usage; u.OutputTokens != 0 {
			s.emit(provider.Chunk{Type: provider.ChunkTypeUsage, UsageDelta: &types.Usage{OutputTokens: int(u.OutputTokens)}})
		}
	case "message_start":
		if u := ev.Message.Usage; u.InputTokens != 0 {
			s.emit(provider.Chunk{Type: provider.ChunkTypeUsage, UsageDelta: &types.Usage{InputTokens: int(u.InputTokens)}})
		}
	}
}
