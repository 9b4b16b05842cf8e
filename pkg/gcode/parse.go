// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gcode

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	commentRe = regexp.MustCompile(`\([^()]*\)|;.*`)
	wordRe    = regexp.MustCompile(`([A-Za-z])\s*([-+]?[0-9]*\.?[0-9]*)`)
)

var moveCommands = map[string]bool{
	"G0": true,
	"G1": true,
	"G2": true,
	"G3": true,
}

// Parse parses a single raw G-code line. It never fails: a line that does
// not start with a G, M or T word keeps its raw text as the command.
func Parse(raw string) *Line {
	l := &Line{Raw: raw}
	words := wordRe.FindAllStringSubmatch(stripForParse(raw), -1)

	if len(words) > 0 && (words[0][1] == "N" || words[0][1] == "n") {
		words = words[1:]
	}
	if len(words) == 0 {
		l.Command = raw
		return l
	}

	letter := strings.ToUpper(words[0][1])
	switch letter {
	case "G", "M", "T":
	default:
		l.Command = raw
		return l
	}

	l.Command = letter + words[0][2]
	l.IsMove = moveCommands[l.Command]

	if letter != "G" {
		return l
	}

	for _, w := range words[1:] {
		parseParam(l, w[1][0]|0x20, w[2])
	}
	return l
}

func parseParam(l *Line, letter byte, number string) {
	var dst **float64
	var bare uint8
	switch letter {
	case 'x':
		dst, bare = &l.X, axisX
	case 'y':
		dst, bare = &l.Y, axisY
	case 'z':
		dst, bare = &l.Z, axisZ
	case 'e':
		dst, bare = &l.E, axisE
	case 'f':
		dst = &l.F
	case 'i':
		dst = &l.I
	case 'j':
		dst = &l.J
	default:
		return
	}

	v, err := strconv.ParseFloat(number, 64)
	if err != nil {
		l.bare |= bare
		return
	}
	*dst = float(v)
}

// stripForParse removes comments and a trailing "*checksum"
func stripForParse(raw string) string {
	s := commentRe.ReplaceAllString(raw, "")
	if i := strings.IndexByte(s, '*'); i >= 0 {
		s = s[:i]
	}
	return s
}

// StripComment removes a trailing ";" comment and surrounding whitespace,
// leaving the text the firmware should receive
func StripComment(raw string) string {
	if i := strings.IndexByte(raw, ';'); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimSpace(raw)
}

// IsHostCommand reports whether raw is a ";@name" host command
func IsHostCommand(raw string) bool {
	return strings.HasPrefix(strings.TrimLeft(raw, " \t"), ";@")
}

// HostCommand splits a ";@name args" line into its name and arguments
func HostCommand(raw string) (name, args string) {
	s := strings.TrimPrefix(strings.TrimSpace(raw), ";@")
	name, args, _ = strings.Cut(s, " ")
	return strings.ToLower(name), strings.TrimSpace(args)
}

func findWord(raw string, letter byte) (float64, bool) {
	words := wordRe.FindAllStringSubmatch(stripForParse(raw), -1)
	if len(words) > 0 {
		words = words[1:] // the command word itself
	}
	for _, w := range words {
		if w[1][0]|0x20 != letter|0x20 {
			continue
		}
		v, err := strconv.ParseFloat(w[2], 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}
	return 0, false
}
