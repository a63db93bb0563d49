package transport

import (
	"fmt"

	"github.com/eapache/queue"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/LeonardBesson/lobby-client-lib/internal/buffer"
	"github.com/LeonardBesson/lobby-client-lib/internal/metrics"
)

// ReadChunkSize is the scratch buffer size used for each read syscall.
const ReadChunkSize = 4096

// Socket couples a Stream with its transform pipeline and the four buffer
// queues between them:
//
//	stream -> unprocessedIn -> pipeline -> processedIn -> decoder
//	encoder -> unprocessedOut -> pipeline -> processedOut -> stream
type Socket struct {
	stream    Stream
	pipeline  *buffer.Pipeline
	connected bool
	closed    bool
	scratch   []byte
	logger    zerolog.Logger

	unprocessedIn  *queue.Queue
	unprocessedOut *queue.Queue
	processedIn    *queue.Queue
	processedOut   *queue.Queue
}

// NewSocket wraps stream. A nil pipeline means no transforms.
func NewSocket(stream Stream, pipeline *buffer.Pipeline) *Socket {
	if pipeline == nil {
		pipeline = buffer.NewPipeline()
	}
	return &Socket{
		stream:         stream,
		pipeline:       pipeline,
		scratch:        make([]byte, ReadChunkSize),
		logger:         log.With().Str("component", "socket").Int("fd", stream.Fd()).Logger(),
		unprocessedIn:  queue.New(),
		unprocessedOut: queue.New(),
		processedIn:    queue.New(),
		processedOut:   queue.New(),
	}
}

// Fd returns the underlying descriptor.
func (s *Socket) Fd() int {
	return s.stream.Fd()
}

// IsConnected reports whether the stream has completed its connect.
func (s *Socket) IsConnected() bool {
	return s.connected
}

// Err returns the stream's pending socket error.
func (s *Socket) Err() error {
	return s.stream.Err()
}

// MarkConnected records that the connect completed and disables Nagle.
func (s *Socket) MarkConnected() {
	if s.connected || s.closed {
		return
	}
	s.connected = true
	if err := s.stream.SetNoDelay(true); err != nil {
		s.logger.Warn().Err(err).Msg("failed to set TCP_NODELAY")
	}
}

// QueueOut appends an encoded buffer for the outbound pipeline.
func (s *Socket) QueueOut(buf *buffer.ByteBuffer) {
	s.unprocessedOut.Add(buf)
}

// PopIn returns the next inbound buffer that went through the pipeline.
func (s *Socket) PopIn() (*buffer.ByteBuffer, bool) {
	if s.processedIn.Length() == 0 {
		return nil, false
	}
	return s.processedIn.Remove().(*buffer.ByteBuffer), true
}

// PendingOut returns the number of bytes waiting to be written.
func (s *Socket) PendingOut() int {
	total := 0
	for _, q := range []*queue.Queue{s.unprocessedOut, s.processedOut} {
		for i := 0; i < q.Length(); i++ {
			total += q.Get(i).(*buffer.ByteBuffer).Len()
		}
	}
	return total
}

// ProcessIn runs every raw inbound buffer through the pipeline.
func (s *Socket) ProcessIn() error {
	return s.process(s.unprocessedIn, s.processedIn, buffer.Inbound)
}

// ProcessOut runs every encoded outbound buffer through the pipeline.
func (s *Socket) ProcessOut() error {
	return s.process(s.unprocessedOut, s.processedOut, buffer.Outbound)
}

func (s *Socket) process(from, to *queue.Queue, dir buffer.Direction) error {
	for from.Length() > 0 {
		buf := from.Remove().(*buffer.ByteBuffer)
		out, err := s.pipeline.Run(buf, dir)
		if err != nil {
			return err
		}
		to.Add(out)
	}
	return nil
}

// Read drains the stream into the inbound queue until it would block. It
// returns the byte count and the error that stopped the loop, which is
// EAGAIN in the normal case.
func (s *Socket) Read() (int, error) {
	if s.closed {
		return 0, ErrSocketClosed
	}
	total := 0
	for {
		n, err := s.stream.Read(s.scratch)
		if n > 0 {
			total += n
			s.unprocessedIn.Add(buffer.FromCopy(s.scratch[:n]))
			metrics.BytesReadTotal.Add(float64(n))
		}
		if err != nil {
			return total, err
		}
	}
}

// Write sends processed buffers in order until the queue is empty or the
// stream would block. A partially written buffer keeps its unsent tail at
// the front of the queue.
func (s *Socket) Write() (int, error) {
	if s.closed {
		return 0, ErrSocketClosed
	}
	total := 0
	for s.processedOut.Length() > 0 {
		buf := s.processedOut.Peek().(*buffer.ByteBuffer)
		n, err := s.stream.Write(buf.Bytes())
		if err != nil {
			return total, err
		}
		s.MarkConnected()
		total += n
		metrics.BytesWrittenTotal.Add(float64(n))
		if n < buf.Len() {
			buf.Skip(n)
			continue
		}
		s.processedOut.Remove()
		buf.Release()
	}
	return total, nil
}

// Close closes the stream and drops queued buffers. It is idempotent.
func (s *Socket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.connected = false
	for _, q := range []*queue.Queue{s.unprocessedIn, s.unprocessedOut, s.processedIn, s.processedOut} {
		for q.Length() > 0 {
			q.Remove().(*buffer.ByteBuffer).Release()
		}
	}
	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("failed to close socket: %w", err)
	}
	return nil
}
