// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package printcore

import "errors"

// Error kinds reported through the error event and the logger. Transport
// failures use transport.ErrTransport.
var (
	ErrConfig   = errors.New("configuration error")
	ErrState    = errors.New("invalid state")
	ErrProtocol = errors.New("printer error")
	ErrDecode   = errors.New("decode error")
)
