package dummy

import (
	"io"
	"sync"
	"time"

	"github.com/tzgateway/gateway/provider"
	"github.com/tzgateway/gateway/types"
)

type streamer struct {
	words []string
	usage int

	mu       sync.Mutex
	idx      int
	start    time.Time
	ttftMS   int64
	gotFirst bool
}

func newStreamer(words []string, usage int) *streamer {
	return &streamer{words: words, usage: usage, start: time.Now(), ttftMS: -1}
}

// Recv returns one text chunk per call, then a final usage chunk, then
// io.EOF, matching §4.C's "terminal [DONE] sentinel that yields a final
// usage-aggregated chunk".
func (s *streamer) Recv() (provider.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idx < len(s.words) {
		if !s.gotFirst {
			s.ttftMS = time.Since(s.start).Milliseconds()
			if s.ttftMS == 0 {
				s.ttftMS = 1
			}
			s.gotFirst = true
		}
		word := s.words[s.idx]
		s.idx++
		text := word
		if s.idx < len(s.words) {
			text += " "
		}
		return provider.Chunk{Type: provider.ChunkTypeText, Text: text}, nil
	}
	if s.idx == len(s.words) {
		s.idx++
		return provider.Chunk{
			Type:         provider.ChunkTypeUsage,
			UsageDelta:   &types.Usage{InputTokens: s.usage, OutputTokens: len(s.words)},
			FinishReason: types.FinishReasonStop,
		}, nil
	}
	return provider.Chunk{}, io.EOF
}

func (s *streamer) Close() error { return nil }

func (s *streamer) TTFTMillis() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttftMS
}
