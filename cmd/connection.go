// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/Thermoquad/gcodehost/pkg/printcore"
	"github.com/Thermoquad/gcodehost/pkg/transport"
)

// onlineTimeout bounds the wait for the printer to answer the handshake
const onlineTimeout = 30 * time.Second

// errOffline is returned when the printer never answered the handshake
var errOffline = errors.New("printer did not come online")

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("GCODEHOST_PASSWORD"); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}

// controllerConfig maps the persistent flags onto a printcore.Config
func controllerConfig() (printcore.Config, error) {
	if portName == "" {
		return printcore.Config{}, fmt.Errorf("--port must be specified (or set GCODEHOST_PORT)")
	}

	cfg := printcore.Config{
		Port:               portName,
		Baud:               baudRate,
		DTR:                dtr,
		TCPStreaming:       tcpStreaming,
		XYFeedrate:         xyFeedrate,
		ZFeedrate:          zFeedrate,
		Loud:               loud,
		Username:           wsUsername,
		InsecureSkipVerify: wsNoSSLVerify,
		Logger:             &log.Logger,
	}

	if transport.KindOf(portName) == transport.KindWebSocket && wsUsername != "" {
		password, err := GetPassword()
		if err != nil {
			return printcore.Config{}, err
		}
		cfg.Password = password
	}
	return cfg, nil
}

// connectionInfo describes the target for banners
func connectionInfo() string {
	kind := transport.KindOf(portName)
	if kind == transport.KindSerial {
		return fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate)
	}
	return fmt.Sprintf("%s: %s", kind, portName)
}

// OpenController builds a controller from the flags, attaches handlers and
// waits until the printer is online
func OpenController(ctx context.Context, handlers ...any) (*printcore.Controller, error) {
	cfg, err := controllerConfig()
	if err != nil {
		return nil, err
	}

	c := printcore.New(cfg)
	for _, h := range handlers {
		c.AddEventHandler(h)
	}
	if err := c.Connect(ctx, "", 0); err != nil {
		return nil, err
	}

	if err := waitOnline(ctx, c); err != nil {
		c.Disconnect()
		return nil, err
	}
	return c, nil
}

func waitOnline(ctx context.Context, c *printcore.Controller) error {
	ctx, cancel := context.WithTimeout(ctx, onlineTimeout)
	defer cancel()

	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for !c.Online() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w on %s: %w", errOffline, portName, ctx.Err())
		case <-tick.C:
		}
	}
	return nil
}
