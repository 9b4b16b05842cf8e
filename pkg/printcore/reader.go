// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package printcore

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/Thermoquad/gcodehost/pkg/transport"
)

var errLinkLost = errors.New("link lost")

// readLoop is the only reader on the transport. It returns an error when
// the link dropped on its own, which cancels the sender.
func (c *Controller) readLoop(l *link) error {
	if c.handshake(l) {
		for c.canContinue(l) {
			line, err := c.readLine(l)
			if err != nil {
				break
			}
			if line != "" {
				c.classify(line)
			}
		}
	}

	if l.closing.Load() || l.ctx.Err() != nil {
		return nil
	}
	c.linkLost(l)
	return errLinkLost
}

func (c *Controller) canContinue(l *link) bool {
	return l.ctx.Err() == nil && l.tr.IsConnected()
}

// handshake polls with M105 until the printer greets or acks. A pass gives
// up after a run of empty reads and polls again.
func (c *Controller) handshake(l *link) bool {
	for !c.online.Load() && c.canContinue(l) {
		c.send(l, "M105", 0, false)
		if c.writeFailures.Load() >= maxWriteFailures {
			c.fail(transport.ErrTransport, fmt.Sprintf("Aborting connection attempt after %d failed writes.", maxWriteFailures))
			return false
		}

		empty := 0
		for c.canContinue(l) {
			line, err := c.readLine(l)
			if err != nil {
				return false
			}
			if line == "" {
				empty++
				if empty == handshakeEmptyReads {
					break
				}
				continue
			}
			empty = 0

			if isGreeting(line) || strings.HasPrefix(line, "ok") || strings.Contains(line, "T:") {
				c.clear.Store(true)
				c.online.Store(true)
				c.log.Info().Str("port", l.port).Msg("printer is online")
				c.events.online()
				break
			}
		}
	}
	return c.online.Load()
}

// readLine returns the next line with its terminator, or "" on timeout or
// an undecodable line
func (c *Controller) readLine(l *link) (string, error) {
	b, err := l.tr.ReadLine()
	if err != nil {
		switch {
		case l.closing.Load() || l.ctx.Err() != nil:
		case errors.Is(err, io.EOF):
			c.log.Warn().Str("port", l.port).Msg("printer closed the connection")
		default:
			c.fail(transport.ErrTransport, fmt.Sprintf("Can't read from printer (disconnected?): %v", err))
		}
		return "", err
	}
	if len(b) == 0 {
		return "", nil
	}
	if !utf8.Valid(b) {
		c.stats.update(func(s *Statistics) { s.DecodeErrors++ })
		c.fail(ErrDecode, fmt.Sprintf("Got rubbish reply from %s at baudrate %d:\nMaybe a bad baudrate?", l.port, l.baud))
		return "", nil
	}

	line := string(b)
	if c.cfg.Loud {
		c.log.Info().Str("port", l.port).Msg("RECV: " + strings.TrimRight(line, "\r\n"))
	} else {
		c.log.Debug().Str("port", l.port).Str("line", strings.TrimRight(line, "\r\n")).Msg("recv")
	}
	c.recv.add(line)
	c.stats.update(func(s *Statistics) { s.LinesReceived++ })
	c.events.recv(line)
	return line, nil
}

// classify updates flow control from one printer line
func (c *Controller) classify(line string) {
	if strings.HasPrefix(line, "DEBUG_") {
		return
	}

	if isAck(line) {
		c.clear.Store(true)
		c.stats.update(func(s *Statistics) { s.Acks++ })
	}
	if isTempAck(line) {
		c.stats.update(func(s *Statistics) { s.TempReports++ })
		c.events.temp(line)
	} else if strings.HasPrefix(line, "Error") {
		c.stats.update(func(s *Statistics) { s.Errors++ })
		c.fail(ErrProtocol, strings.TrimRight(line, "\r\n"))
	}

	if isResend(line) {
		if n, ok := parseResend(line); ok {
			c.resendFrom.Store(int64(n))
			c.stats.update(func(s *Statistics) { s.Resends++ })
			c.log.Debug().Int("line", n).Msg("printer requested resend")
		}
		c.clear.Store(true)
	}
}
