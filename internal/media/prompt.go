package media

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// PromptProvider asks on a terminal whether the microphone may be used.
// It stands in for the browser permission dialog in the CLI.
type PromptProvider struct {
	mu      sync.Mutex
	in      *bufio.Reader
	out     io.Writer
	pending chan promptAnswer
}

type promptAnswer struct {
	line string
	err  error
}

func NewPromptProvider(in io.Reader, out io.Writer) *PromptProvider {
	return &PromptProvider{in: bufio.NewReader(in), out: out}
}

func (p *PromptProvider) Acquire(ctx context.Context) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprint(p.out, "Allow microphone access? [y/N] ")

	// A read abandoned by a cancelled prompt is still pending on the reader;
	// reuse it rather than starting a second concurrent read.
	if p.pending == nil {
		ch := make(chan promptAnswer, 1)
		go func() {
			line, err := p.in.ReadString('\n')
			ch <- promptAnswer{line: line, err: err}
		}()
		p.pending = ch
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case a := <-p.pending:
		p.pending = nil
		if a.err != nil && !errors.Is(a.err, io.EOF) {
			return nil, fmt.Errorf("read answer: %w", a.err)
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			return &promptHandle{out: p.out}, nil
		default:
			return nil, errors.New("microphone access not allowed")
		}
	}
}

type promptHandle struct {
	out  io.Writer
	once sync.Once
}

func (h *promptHandle) Release() error {
	h.once.Do(func() {
		fmt.Fprintln(h.out, "microphone released")
	})
	return nil
}
