// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package mockprinter simulates the host-facing side of a Marlin-style
// firmware: greeting, acks, temperature reports, and line-number/checksum
// validation with resend requests.
package mockprinter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Greeting is sent when a host connects
const Greeting = "start\n"

// Printer holds the simulated firmware state. It is safe for concurrent use.
type Printer struct {
	mu       sync.Mutex
	temp     int
	lastLine int
	received []string
	corrupt  map[int]bool

	log zerolog.Logger
}

// New returns a printer expecting line number 0 next
func New(log zerolog.Logger) *Printer {
	return &Printer{
		lastLine: -1,
		corrupt:  make(map[int]bool),
		log:      log,
	}
}

// CorruptLine makes the next arrival of line n fail its checksum once
func (p *Printer) CorruptLine(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.corrupt[n] = true
}

// Received returns every line handled so far, terminators stripped
func (p *Printer) Received() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.received...)
}

// Handle processes one line from the host and returns the reply lines
func (p *Printer) Handle(line string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	line = strings.TrimRight(line, "\r\n")
	p.received = append(p.received, line)

	cmd := line
	if strings.HasPrefix(line, "N") {
		n, body, err := p.checkFrame(line)
		if err != nil {
			p.log.Debug().Err(err).Str("line", line).Msg("rejecting frame")
			return []string{
				fmt.Sprintf("Error:%v, Last Line: %d\n", err, p.lastLine),
				fmt.Sprintf("Resend: %d\n", p.lastLine+1),
				"ok\n",
			}
		}
		p.lastLine = n
		cmd = body
	}

	switch word, _, _ := strings.Cut(cmd, " "); word {
	case "M105":
		reply := fmt.Sprintf("ok T:%d.0 /0.0 B:%d.0 /0.0 @:0 B@:0\n", 20+p.temp, 20+p.temp/2)
		p.temp = (p.temp + 1) % 30
		return []string{reply}
	case "M110":
		if n, ok := lineNumberArg(cmd); ok {
			p.lastLine = n
		}
	}
	return []string{"ok\n"}
}

var (
	errChecksum = errors.New("checksum mismatch")
	errLineNo   = errors.New("Line Number is not Last Line Number+1")
)

// checkFrame validates "N<n> <cmd>*<sum>" and returns n and cmd
func (p *Printer) checkFrame(line string) (int, string, error) {
	payload, sum, ok := strings.Cut(line, "*")
	if !ok {
		return 0, "", errChecksum
	}
	head, body, _ := strings.Cut(payload, " ")
	n, err := strconv.Atoi(strings.TrimPrefix(head, "N"))
	if err != nil {
		return 0, "", errLineNo
	}

	want, err := strconv.Atoi(sum)
	if err != nil || want != checksum(payload) || p.corrupt[n] {
		delete(p.corrupt, n)
		return 0, "", errChecksum
	}
	if !strings.HasPrefix(body, "M110") && n != p.lastLine+1 {
		return 0, "", errLineNo
	}
	return n, body, nil
}

func lineNumberArg(cmd string) (int, bool) {
	for _, f := range strings.Fields(cmd)[1:] {
		if strings.HasPrefix(f, "N") {
			n, err := strconv.Atoi(f[1:])
			return n, err == nil
		}
	}
	return 0, false
}

func checksum(s string) int {
	var c byte
	for i := 0; i < len(s); i++ {
		c ^= s[i]
	}
	return int(c)
}

// Serve accepts hosts on ln until ctx is done, one at a time, and speaks
// the simulated protocol with each of them
func (p *Printer) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		p.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("host connected")
		p.serveConn(ctx, conn)
		p.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("host disconnected")
	}
}

func (p *Printer) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if _, err := conn.Write([]byte(Greeting)); err != nil {
		return
	}

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		p.log.Debug().Str("line", strings.TrimSpace(line)).Msg("recv")
		for _, reply := range p.Handle(line) {
			if _, err := conn.Write([]byte(reply)); err != nil {
				return
			}
		}
	}
}
