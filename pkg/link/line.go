package link

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// maxLineLength bounds a single reading; longer lines are discarded whole.
const maxLineLength = 256

// lineLink speaks the text protocol shared by the socket and serial
// probes: one reading per line from the device, F<freq>/S commands to it.
type lineLink struct {
	name string
	open func() (io.ReadWriteCloser, error)
	// idleEOF treats io.EOF as a read timeout rather than a hang-up.
	idleEOF bool
	post    Poster
	log     *slog.Logger

	mu      sync.Mutex
	conn    io.ReadWriteCloser
	closing atomic.Bool
	done    chan struct{}

	oversized atomic.Uint64
}

func (l *lineLink) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return nil
	}
	conn, err := l.open()
	if err != nil {
		return fmt.Errorf("%s open: %w", l.name, err)
	}
	l.conn = conn
	l.closing.Store(false)
	l.done = make(chan struct{})
	go l.read(conn, l.done)
	l.log.Info("link started", "link", l.name)
	return nil
}

// Stop closes the connection and waits for the reader, so nothing is
// posted once it returns.
func (l *lineLink) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	l.closing.Store(true)
	err := l.conn.Close()
	<-l.done
	l.conn = nil
	if err != nil {
		return fmt.Errorf("%s close: %w", l.name, err)
	}
	l.log.Info("link stopped", "link", l.name)
	return nil
}

func (l *lineLink) SetSampleRate(freq float64) error {
	return l.send(sampleCommand(freq))
}

func (l *lineLink) StopSampling() error {
	l.mu.Lock()
	connected := l.conn != nil
	l.mu.Unlock()
	if !connected {
		return nil
	}
	return l.send(stopCommand)
}

func (l *lineLink) send(cmd string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return ErrNotConnected
	}
	if _, err := io.WriteString(l.conn, cmd); err != nil {
		return fmt.Errorf("%s write: %w", l.name, err)
	}
	return nil
}

func (l *lineLink) read(r io.Reader, done chan struct{}) {
	defer close(done)
	buf := make([]byte, 256)
	line := make([]byte, 0, maxLineLength)
	oversized := false
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			if b != '\n' {
				if len(line) < maxLineLength {
					line = append(line, b)
				} else {
					oversized = true
				}
				continue
			}
			if l.closing.Load() {
				return
			}
			if oversized {
				l.oversized.Add(1)
				l.log.Warn("dropping oversized line", "link", l.name, "limit", maxLineLength)
			} else if payload := bytes.TrimSpace(line); len(payload) > 0 {
				l.post.Post(string(payload))
			}
			line, oversized = line[:0], false
		}
		if l.closing.Load() {
			return
		}
		if err == nil || (l.idleEOF && errors.Is(err, io.EOF)) {
			continue
		}
		if !errors.Is(err, io.EOF) {
			l.log.Warn("link read", "link", l.name, "error", err)
		} else {
			l.log.Info("link closed by device", "link", l.name)
		}
		return
	}
}
