package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/danmuck/satlink/internal/stream"
)

// progressPrinter renders the counters after every inbound message. On a
// terminal the line is redrawn in place; otherwise each update is its own
// line.
type progressPrinter struct {
	mu     sync.Mutex
	out    io.Writer
	inline bool
	last   string
}

func newProgressPrinter(f *os.File) *progressPrinter {
	fd := f.Fd()
	return &progressPrinter{
		out:    f,
		inline: isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd),
	}
}

func (p *progressPrinter) Update(s stream.Snapshot) {
	line := s.String()
	p.mu.Lock()
	defer p.mu.Unlock()
	if line == p.last {
		return
	}
	p.last = line
	if p.inline {
		fmt.Fprintf(p.out, "\r%s", line)
		return
	}
	fmt.Fprintln(p.out, line)
}

func (p *progressPrinter) Finish(res stream.Result, s stream.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inline && p.last != "" {
		fmt.Fprintln(p.out)
	}
	fmt.Fprintf(p.out, "finished reason=%s attempts=%d %s\n", res.Reason, res.Attempts, s)
	if res.Err != nil {
		fmt.Fprintf(p.out, "cause: %v\n", res.Err)
	}
}
