package buffer

import (
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/LeonardBesson/lobby-client-lib/internal/metrics"
)

// Direction tells a Processor which way a buffer is travelling.
type Direction int

const (
	Inbound  Direction = iota // Socket -> decoder
	Outbound                  // Encoder -> socket
)

func (d Direction) String() string {
	if d == Inbound {
		return "in"
	}
	return "out"
}

// Processor is one reversible stage of the transform pipeline, such as
// encryption or compression. It may return buf itself or a new buffer; a
// processor that replaces buf is responsible for releasing it.
type Processor interface {
	Name() string
	Process(buf *ByteBuffer, dir Direction) (*ByteBuffer, error)
}

// Pipeline runs processors in registration order for outbound buffers and in
// reverse order for inbound ones, so [compress, encrypt] compresses then
// encrypts on send and decrypts then decompresses on receive.
type Pipeline struct {
	processors []Processor
}

// NewPipeline creates a pipeline with the given stages.
func NewPipeline(processors ...Processor) *Pipeline {
	return &Pipeline{processors: append([]Processor(nil), processors...)}
}

// Add appends a stage.
func (p *Pipeline) Add(proc Processor) {
	p.processors = append(p.processors, proc)
}

// Len returns the number of stages.
func (p *Pipeline) Len() int {
	return len(p.processors)
}

// Run passes buf through every stage in the order dir requires.
func (p *Pipeline) Run(buf *ByteBuffer, dir Direction) (*ByteBuffer, error) {
	var err error
	n := len(p.processors)
	for i := 0; i < n; i++ {
		proc := p.processors[i]
		if dir == Inbound {
			proc = p.processors[n-1-i]
		}
		buf, err = proc.Process(buf, dir)
		if err != nil {
			return nil, fmt.Errorf("processor %s failed on %s buffer: %w", proc.Name(), dir, err)
		}
	}
	return buf, nil
}

// LogProcessor dumps every buffer at trace level. It never alters data.
type LogProcessor struct {
	logger zerolog.Logger
}

// NewLogProcessor creates a trace-level wire dumper.
func NewLogProcessor() *LogProcessor {
	return &LogProcessor{logger: log.With().Str("component", "wire").Logger()}
}

func (p *LogProcessor) Name() string { return "log" }

func (p *LogProcessor) Process(buf *ByteBuffer, dir Direction) (*ByteBuffer, error) {
	if e := p.logger.Trace(); e.Enabled() {
		e.Str("dir", dir.String()).
			Int("len", buf.Len()).
			Str("hex", hex.EncodeToString(buf.Bytes())).
			Msg("buffer")
	}
	return buf, nil
}

// MetricsProcessor counts bytes per direction. It never alters data.
type MetricsProcessor struct{}

func (MetricsProcessor) Name() string { return "metrics" }

func (MetricsProcessor) Process(buf *ByteBuffer, dir Direction) (*ByteBuffer, error) {
	metrics.PipelineBytesTotal.WithLabelValues(dir.String()).Add(float64(buf.Len()))
	return buf, nil
}
