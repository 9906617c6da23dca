package client

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

var (
	ErrSinkNotFound = errors.New("no sink for stream")
	ErrStreamExists = errors.New("stream already registered")
)

// Sink renders one remote stream.
type Sink interface {
	Close() error
}

// SinkFactory opens the sink for a newly added stream.
type SinkFactory func(streamID string) (Sink, error)

// Streams is the registry of remote streams keyed by stream id.
type Streams struct {
	newSink SinkFactory

	mu    sync.Mutex
	sinks map[string]Sink
}

func NewStreams(newSink SinkFactory) *Streams {
	return &Streams{newSink: newSink, sinks: make(map[string]Sink)}
}

func (s *Streams) Add(streamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sinks[streamID]; ok {
		return fmt.Errorf("%w: %s", ErrStreamExists, streamID)
	}
	sink, err := s.newSink(streamID)
	if err != nil {
		return fmt.Errorf("open sink for %s: %w", streamID, err)
	}
	s.sinks[streamID] = sink
	return nil
}

func (s *Streams) Remove(streamID string) error {
	s.mu.Lock()
	sink, ok := s.sinks[streamID]
	delete(s.sinks, streamID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSinkNotFound, streamID)
	}
	return sink.Close()
}

// IDs returns the registered stream ids in sorted order.
func (s *Streams) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sinks))
	for id := range s.sinks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// CloseAll tears down every sink.
func (s *Streams) CloseAll() {
	s.mu.Lock()
	sinks := s.sinks
	s.sinks = make(map[string]Sink)
	s.mu.Unlock()
	for _, sink := range sinks {
		_ = sink.Close()
	}
}

// LogSink records a stream's lifetime in the log.
type LogSink struct {
	streamID string
	opened   time.Time
	logger   *slog.Logger
}

// NewLogSinkFactory returns a SinkFactory producing LogSinks.
func NewLogSinkFactory(logger *slog.Logger) SinkFactory {
	return func(streamID string) (Sink, error) {
		logger.Info("remote stream added", "stream_id", streamID)
		return &LogSink{streamID: streamID, opened: time.Now(), logger: logger}, nil
	}
}

func (s *LogSink) Close() error {
	s.logger.Info("remote stream removed", "stream_id", s.streamID, "duration", time.Since(s.opened))
	return nil
}
