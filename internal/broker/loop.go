// SPDX-License-Identifier: AGPL-3.0-only
package broker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/TenzinPlatter/nvim-llm-request/internal/protocol"
)

// maxLineSize bounds one inbound request line. Editor buffers sent as
// completion context can be large.
const maxLineSize = 10 * 1024 * 1024

var newline = []byte{'\n'}

// errLineTooLong marks an input line over maxLineSize. The line has already
// been consumed through its newline when this is returned.
var errLineTooLong = errors.New("input line too long")

// Run reads one JSON request per line from in until EOF or context
// cancellation, writing one JSON object per emitted event to out. Every
// event is written (and therefore visible to the caller) as soon as it is
// produced. A malformed or oversized line yields a single error event and
// the loop moves on; no input ever terminates the loop early.
func (b *Broker) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	var writeMu sync.Mutex

	reader := bufio.NewReaderSize(in, 64*1024)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line, err := readLine(reader)
		if err == errLineTooLong {
			b.writeEvent(out, &writeMu, protocol.Errorf("Invalid JSON: line exceeds %d bytes", maxLineSize))
			continue
		}

		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			req, perr := protocol.ParseRequest(trimmed)
			if perr != nil {
				b.writeEvent(out, &writeMu, protocol.Errorf("Invalid JSON: %v", perr))
			} else {
				for ev := range b.Handle(ctx, req) {
					b.writeEvent(out, &writeMu, ev)
				}
			}
		}

		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// readLine returns one input line, newline included, possibly alongside a
// final-line io.EOF. A line over maxLineSize is discarded through its
// newline and reported as errLineTooLong.
func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if len(line)+len(chunk) > maxLineSize {
			return nil, discardLine(r, err)
		}
		line = append(line, chunk...)
		if err == bufio.ErrBufferFull {
			continue
		}
		return line, err
	}
}

// discardLine consumes the remainder of an oversized line.
func discardLine(r *bufio.Reader, err error) error {
	for err == bufio.ErrBufferFull {
		_, err = r.ReadSlice('\n')
	}
	if err == nil || err == io.EOF {
		return errLineTooLong
	}
	return err
}

// writeEvent serializes one event as its own output line. The mutex keeps
// lines whole if request handling is ever parallelized.
func (b *Broker) writeEvent(out io.Writer, mu *sync.Mutex, ev protocol.Event) {
	data, err := protocol.EncodeEvent(ev)
	if err != nil {
		b.logger.Errorf("failed to encode %s event: %v", ev.EventType(), err)
		return
	}

	mu.Lock()
	defer mu.Unlock()
	if _, err := out.Write(append(data, newline...)); err != nil {
		b.logger.Errorf("failed to write event: %v", err)
	}
}
