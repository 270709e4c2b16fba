package sandbox

import (
	"bufio"
	"errors"
	"io"
	"sync"
)

// MaxChunk bounds one output chunk. Longer lines are delivered as
// several consecutive chunks.
const MaxChunk = 64 * 1024

// Pipe is a Process backed by a channel. Backends feed it with Send and
// call Finish exactly once when the underlying program has exited.
type Pipe struct {
	out  chan string
	done chan struct{}
	once sync.Once

	code int
	err  error
}

// NewPipe creates a Pipe whose output channel holds up to buffer chunks.
func NewPipe(buffer int) *Pipe {
	return &Pipe{
		out:  make(chan string, buffer),
		done: make(chan struct{}),
	}
}

// Send delivers a chunk. It blocks while the output buffer is full.
func (p *Pipe) Send(chunk string) {
	p.out <- chunk
}

// Finish records the exit status and closes the output channel.
func (p *Pipe) Finish(code int, err error) {
	p.once.Do(func() {
		p.code = code
		p.err = err
		close(p.out)
		close(p.done)
	})
}

func (p *Pipe) Output() <-chan string { return p.out }

func (p *Pipe) Wait() (int, error) {
	<-p.done
	return p.code, p.err
}

// SendLines delivers each line read from r, without its line ending, until
// EOF. Lines longer than MaxChunk are split. It returns the first read
// error other than io.EOF.
func (p *Pipe) SendLines(r io.Reader) error {
	br := bufio.NewReaderSize(r, MaxChunk)
	for {
		line, _, err := br.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		p.Send(string(line))
	}
}
