package vertex

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/tzgateway/gateway/provider"
	"github.com/tzgateway/gateway/tzerr"
	"github.com/tzgateway/gateway/types"
)

// streamer adapts a ConverseStream event stream into provider.Streamer,
// tracking the single content block that may be in flight at a time (the
// Converse API does not interleave multiple blocks within one message).
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	out    *bedrockruntime.ConverseStreamOutput

	chunks chan provider.Chunk

	errMu    sync.Mutex
	finalErr error

	startedAt time.Time
	ttft      atomic.Int64

	activeTool *types.ToolCallPart
	argBuf     []byte
}

func newStreamer(ctx context.Context, out *bedrockruntime.ConverseStreamOutput) provider.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	st := &streamer{
		ctx:       cctx,
		cancel:    cancel,
		out:       out,
		chunks:    make(chan provider.Chunk, 32),
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
	if s.out == nil {
		return nil
	}
	return s.out.GetStream().Close()
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
	stream := s.out.GetStream()
	for event := range stream.Events() {
		s.handleEvent(event)
	}
	if err := stream.Err(); err != nil && !errors.Is(err, io.EOF) {
		s.setErr(tzerr.New(tzerr.KindInferenceServer, "vertex stream", err, nil))
	}
}

func (s *streamer) emit(c provider.Chunk) {
	select {
	case s.chunks <- c:
	case <-s.ctx.Done():
	}
}

func (s *streamer) handleEvent(event brtypes.ConverseStreamOutput) {
	switch v := event.(type) {
	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		if toolStart, ok := v.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
			s.activeTool = &types.ToolCallPart{ID: strVal(toolStart.Value.ToolUseId), Name: strVal(toolStart.Value.Name)}
			s.argBuf = s.argBuf[:0]
		}
	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		switch delta := v.Value.Delta.(type) {
		case *brtypes.ContentBlockDeltaMemberText:
			if delta.Value != "" {
				s.emit(provider.Chunk{Type: provider.ChunkTypeText, Text: delta.Value})
			}
		case *brtypes.ContentBlockDeltaMemberToolUse:
			frag := strVal(delta.Value.Input)
			if frag != "" {
				s.argBuf = append(s.argBuf, []byte(frag)...)
				if s.activeTool != nil {
					s.emit(provider.Chunk{
						Type:      provider.ChunkTypeToolDelta,
						ToolDelta: &provider.ToolCallDelta{ID: s.activeTool.ID, Name: s.activeTool.Name, Delta: frag},
					})
				}
			}
		}
	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		if s.activeTool != nil {
			s.activeTool.RawArgs = append([]byte(nil), s.argBuf...)
			s.emit(provider.Chunk{Type: provider.ChunkTypeToolCall, ToolCall: s.activeTool})
			s.activeTool = nil
			s.argBuf = nil
		}
	case *brtypes.ConverseStreamOutputMemberMessageStop:
		s.emit(provider.Chunk{Type: provider.ChunkTypeStop, FinishReason: mapStopReason(v.Value.StopReason)})
	case *brtypes.ConverseStreamOutputMemberMetadata:
		if v.Value.Usage != nil {
			s.emit(provider.Chunk{Type: provider.ChunkTypeUsage, UsageDelta: &types.Usage{
				InputTokens:  int(int32Val(v.Value.Usage.InputTokens)),
				OutputTokens: int(int32Val(v.Value.Usage.OutputTokens)),
			}})
		}
	}
}

