package session

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gosuda/buildwatch/internal/domain"
	"github.com/gosuda/buildwatch/internal/transport"
)

const (
	rawChunkSize = 32 * 1024
	// maxMessageSize bounds one structured message; SET_LOGS carries a whole
	// snapshot.
	maxMessageSize = 16 * 1024 * 1024
	ipcReadSize    = 256 * 1024
)

// Handle is what a launcher hands over for a running child: its two raw
// text channels, the structured channel (nil when the child has none) and
// a way to wait for its exit.
type Handle interface {
	Stdout() io.Reader
	Stderr() io.Reader
	IPC() io.Reader
	// Wait blocks until the child exits and returns its exit code. It is
	// called once every reader has reached EOF, or as soon as ctx ends, in
	// which case it must stop the child. Readers that are io.Closers are
	// closed afterwards if they are still being read.
	Wait(ctx context.Context) (int, error)
}

// PumpRaw copies r into the session as raw chunks until EOF or until the
// session ends.
func PumpRaw(s *Session, ch transport.Channel, r io.Reader) error {
	buf := make([]byte, rawChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if werr := s.WriteRaw(ch, buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// PumpIPC feeds newline-delimited structured messages from r into the
// session until EOF or until the session ends. A message longer than
// maxMessageSize is discarded and counted as an anomaly; reading goes on
// with the next line.
func PumpIPC(s *Session, r io.Reader) error {
	return pumpIPC(s, r, maxMessageSize)
}

func pumpIPC(s *Session, r io.Reader, limit int) error {
	br := bufio.NewReaderSize(r, ipcReadSize)

	var (
		line      []byte
		discarded int
	)
	for {
		frag, err := br.ReadSlice('\n')
		switch {
		case discarded > 0:
			discarded += len(frag)
		case len(line)+len(frag) > limit:
			discarded = len(line) + len(frag)
			line = nil
		default:
			line = append(line, frag...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		if discarded > 0 {
			tooLong := fmt.Errorf("message of %d bytes over the %d byte limit: %w", discarded, limit, domain.ErrMalformedMessage)
			if !s.enqueue(malformedEvent{err: tooLong}) {
				return fmt.Errorf("session.PumpIPC: %w", ErrSessionEnded)
			}
			discarded = 0
		} else if msg := bytes.TrimSpace(line); len(msg) > 0 {
			if rerr := s.Receive(msg); rerr != nil {
				return rerr
			}
		}
		line = nil

		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("session.PumpIPC: %w", err)
		}
	}
}
