package openai

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/tzgateway/gateway/provider"
	"github.com/tzgateway/gateway/tzerr"
	"github.com/tzgateway/gateway/types"
)

// streamer adapts an OpenAI Chat Completions SSE stream into
// provider.Streamer. Unlike Anthropic's content_block index, OpenAI
// identifies a streamed tool call by a per-chunk Index, so fragments are
// accumulated per index and only flushed (in index order) once the choice
// reports a finish_reason.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.ChatCompletionChunk]

	chunks chan provider.Chunk

	errMu    sync.Mutex
	finalErr error

	startedAt time.Time
	ttft      atomic.Int64 // milliseconds, -1 until first chunk

	toolCalls map[int64]*accumulatingToolCall
}

type accumulatingToolCall struct {
	id   string
	name string
	args []byte
}

func newStreamer(ctx context.Context, s *ssestream.Stream[sdk.ChatCompletionChunk]) provider.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	st := &streamer{
		ctx:       cctx,
		cancel:    cancel,
		stream:    s,
		chunks:    make(chan provider.Chunk, 32),
		startedAt: time.Now(),
		toolCalls: make(map[int64]*accumulatingToolCall),
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
		s.handleEvent(s.stream.Current())
	}
	if err := s.stream.Err(); err != nil && !errors.Is(err, io.EOF) {
		s.setErr(tzerr.New(tzerr.KindInferenceServer, "openai stream", err, nil))
	}
	s.flushToolCalls()
}

func (s *streamer) emit(c provider.Chunk) {
	select {
	case s.chunks <- c:
	case <-s.ctx.Done():
	}
}

func (s *streamer) handleEvent(chunk sdk.ChatCompletionChunk) {
	for _, choice := range chunk.Choices {
		if choice.Delta.Content != "" {
			s.emit(provider.Chunk{Type: provider.ChunkTypeText, Text: choice.Delta.Content})
		}
		for _, tc := range choice.Delta.ToolCalls {
			acc, ok := s.toolCalls[tc.Index]
			if !ok {
				acc = &accumulatingToolCall{}
				s.toolCalls[tc.Index] = acc
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				acc.args = append(acc.args, []byte(tc.Function.Arguments)...)
				s.emit(provider.Chunk{
					Type:      provider.ChunkTypeToolDelta,
					ToolDelta: &provider.ToolCallDelta{ID: acc.id, Name: acc.name, Delta: tc.Function.Arguments},
				})
			}
		}
		if choice.FinishReason != "" {
			s.flushToolCalls()
			s.emit(provider.Chunk{Type: provider.ChunkTypeStop, FinishReason: mapFinishReason(choice.FinishReason)})
		}
	}
	if chunk.Usage.PromptTokens != 0 || chunk.Usage.CompletionTokens != 0 {
		s.emit(provider.Chunk{Type: provider.ChunkTypeUsage, UsageDelta: &types.Usage{
			InputTokens:  int(chunk.Usage.PromptTokens),
			OutputTokens: int(chunk.Usage.CompletionTokens),
		}})
	}
}

// flushToolCalls emits the accumulated tool calls in index order once a
// choice's arguments have stopped streaming. OpenAI never sends a
// per-tool-call stop event, only the choice-level finish_reason.
func (s *streamer) flushToolCalls() {
	if len(s.toolCalls) == 0 {
		return
	}
	indices := make([]int64, 0, len(s.toolCalls))
	for idx := range s.toolCalls {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	for _, idx := range indices {
		acc := s.toolCalls[idx]
		s.emit(provider.Chunk{Type: provider.ChunkTypeToolCall, ToolCall: &types.ToolCallPart{ID: acc.id, Name: acc.name, RawArgs: acc.args}})
	}
	s.toolCalls = make(map[int64]*accumulatingToolCall)
}
