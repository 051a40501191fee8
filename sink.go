package correlator

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v2"
)

// FileSink is a Host that writes delivered transactions to a YAML file, one
// document per transaction. The file is overwritten by the first delivery of
// every session.
type FileSink struct {
	// Filename to write to. A .yml extension is added if not set.
	// Any subdirectories are created if needed.
	Filename string

	// Node is reported as the target of every transaction.
	Node string

	mu      sync.Mutex
	session string
	index   int
}

var _ Host = (*FileSink)(nil)

// NewFileSink returns a sink writing to filename.
func NewFileSink(filename string) *FileSink {
	if !strings.HasSuffix(filename, ".yml") {
		filename += ".yml"
	}
	return &FileSink{Filename: filename}
}

// Started implements Host.
func (s *FileSink) Started(session string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
	s.index = 0
	return nil
}

// Stopped implements Host.
func (s *FileSink) Stopped(session string) {}

// Target implements Host.
func (s *FileSink) Target() string { return s.Node }

// Written returns the number of transactions written in the current session.
func (s *FileSink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// Deliver implements Host.
func (s *FileSink) Deliver(tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(path.Dir(s.Filename), 0750); err != nil {
		return err
	}

	var filemode int
	if s.index == 0 {
		filemode = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	} else {
		filemode = os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(s.Filename, filemode, 0644)
	if err != nil {
		return err
	}

	if s.index > 0 {
		fmt.Fprintf(f, "\n---\n\n")
	}
	fmt.Fprintf(f, "# request %d\n", s.index)
	if s.session != "" {
		fmt.Fprintf(f, "# session %s\n", s.session)
	}
	fmt.Fprintf(f, "# timestamp %s\n", time.Now().UTC().Round(time.Second))
	s.index++

	b, err := yaml.Marshal(tx)
	if err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadRecording reads the transactions written by a FileSink.
func ReadRecording(filename string) ([]*Transaction, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []*Transaction
	dec := yaml.NewDecoder(f)
	for i := 0; ; i++ {
		var tx Transaction
		err := dec.Decode(&tx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("unmarshal transaction %d from %s: %w", i, filename, err)
		}
		out = append(out, &tx)
	}
}
