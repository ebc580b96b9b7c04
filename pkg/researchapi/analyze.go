package researchapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"unicode/utf8"

	"podcast-research-sync/internal/dto"
)

const analyzeChunkSize = 4096

// AnalysisStream delivers the analysis response as text chunks in arrival
// order. Chunks is closed when the stream ends; Err is valid after that.
// Close cancels an unfinished stream.
type AnalysisStream struct {
	chunks chan string
	cancel context.CancelFunc
	once   sync.Once

	err error
}

func (s *AnalysisStream) Chunks() <-chan string {
	return s.chunks
}

// Err returns the terminal error, nil on clean completion. Call it only after
// Chunks has been drained.
func (s *AnalysisStream) Err() error {
	return s.err
}

func (s *AnalysisStream) Close() {
	s.once.Do(s.cancel)
}

// Collect drains the stream and concatenates every chunk.
func (s *AnalysisStream) Collect() (string, error) {
	defer s.Close()

	var sb strings.Builder
	for chunk := range s.chunks {
		sb.WriteString(chunk)
	}
	return sb.String(), s.err
}

// AnalyzeSession starts a streaming analysis of a session. A 429 comes back
// immediately as *QuotaExceededError; it is never retried.
func (c *Client) AnalyzeSession(ctx context.Context, sessionId, clientId, instructions string) (*AnalysisStream, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	op := "analyze research session"
	resp, err := c.send(streamCtx, op, http.MethodPost, "/"+url.PathEscape(sessionId)+"/analyze", clientId,
		dto.AnalyzeResearchSessionRequest{Instructions: instructions})
	if err != nil {
		cancel()
		return nil, withSessionId(err, sessionId, nil)
	}

	s := &AnalysisStream{
		chunks: make(chan string),
		cancel: cancel,
	}
	go s.pump(streamCtx, op, resp.Body)
	return s, nil
}

func (s *AnalysisStream) pump(ctx context.Context, op string, body io.ReadCloser) {
	defer close(s.chunks)
	defer body.Close()

	emit := func(chunk []byte) bool {
		if len(chunk) == 0 {
			return true
		}
		select {
		case s.chunks <- string(chunk):
			return true
		case <-ctx.Done():
			s.err = fmt.Errorf("%s: %w", op, ctx.Err())
			return false
		}
	}

	buf := make([]byte, analyzeChunkSize)
	// pending holds the head of a character split across reads.
	var pending []byte
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			data := append(pending, buf[:n]...)
			cut := completeRunes(data)
			if !emit(data[:cut]) {
				return
			}
			pending = append([]byte(nil), data[cut:]...)
		}
		if errors.Is(readErr, io.EOF) {
			emit(pending)
			return
		}
		if readErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				s.err = fmt.Errorf("%s: %w", op, ctxErr)
			} else {
				s.err = &NetworkError{Op: op, Err: readErr}
			}
			return
		}
	}
}

// completeRunes returns the length of the longest prefix of p that does not
// end inside a multi-byte character.
func completeRunes(p []byte) int {
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax; i-- {
		if utf8.RuneStart(p[i]) {
			if utf8.FullRune(p[i:]) {
				return len(p)
			}
			return i
		}
	}
	return len(p)
}
