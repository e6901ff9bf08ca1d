// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package iobuf

import (
	"bytes"
	"math/rand/v2"
	"strings"
	"testing"
)

// drainLines extracts every line currently available, skipping the
// empty-line signals the way lib/fdio's channel does.
func drainLines(buffer *Buffer, eof bool) []string {
	var lines []string
	for HasLine(buffer, eof) {
		line, ok := ExtractLine(buffer, eof)
		if ok {
			lines = append(lines, string(line))
		}
	}
	return lines
}

func TestExtractLine(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		eof       bool
		wantLine  string
		wantOK    bool
		wantAfter string
	}{
		{"empty buffer", "", false, "", false, ""},
		{"empty buffer at eof", "", true, "", false, ""},
		{"unterminated waits", "partial", false, "", false, "partial"},
		{"unterminated at eof", "partial", true, "partial", true, ""},
		{"one line", "hello\n", false, "hello", true, ""},
		{"line with remainder", "hello\nwor", false, "hello", true, "wor"},
		{"empty line consumed", "\nhello\n", false, "", false, "hello\n"},
		{"first line only", "a\nb\nc\n", false, "a", true, "b\nc\n"},
		{"terminated at eof", "last\n", true, "last", true, ""},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var buffer Buffer
			buffer.Append([]byte(test.input))

			line, ok := ExtractLine(&buffer, test.eof)
			if ok != test.wantOK {
				t.Fatalf("ok = %v, want %v", ok, test.wantOK)
			}
			if string(line) != test.wantLine {
				t.Errorf("line = %q, want %q", line, test.wantLine)
			}
			if got := string(buffer.Bytes()); got != test.wantAfter {
				t.Errorf("buffer after = %q, want %q", got, test.wantAfter)
			}
		})
	}
}

func TestExtractLine_ReturnsCopy(t *testing.T) {
	var buffer Buffer
	buffer.Append([]byte("first\nsecond\n"))

	line, ok := ExtractLine(&buffer, false)
	if !ok {
		t.Fatal("expected a line")
	}
	buffer.Append([]byte("overwrite the front of the buffer"))
	if string(line) != "first" {
		t.Fatalf("returned line changed to %q after buffer mutation", line)
	}
}

func TestExtractLine_NoEmptyLines(t *testing.T) {
	var buffer Buffer
	buffer.Append([]byte("\n\n\nhello\n\n"))

	lines := drainLines(&buffer, false)
	if len(lines) != 1 || lines[0] != "hello" {
		t.Fatalf("lines = %q, want [\"hello\"]", lines)
	}
	if buffer.Len() != 0 {
		t.Fatalf("buffer holds %q after draining", buffer.Bytes())
	}
}

func TestExtractLine_TailOnlyAtEOF(t *testing.T) {
	var buffer Buffer
	buffer.Append([]byte("partial"))

	if lines := drainLines(&buffer, false); len(lines) != 0 {
		t.Fatalf("got %q before end of stream", lines)
	}
	lines := drainLines(&buffer, true)
	if len(lines) != 1 || lines[0] != "partial" {
		t.Fatalf("lines at eof = %q, want [\"partial\"]", lines)
	}
	if lines := drainLines(&buffer, true); len(lines) != 0 {
		t.Fatalf("tail surfaced twice: %q", lines)
	}

	var empty Buffer
	if lines := drainLines(&empty, true); len(lines) != 0 {
		t.Fatalf("empty stream produced %q", lines)
	}
}

func TestExtractLine_StraddlingReads(t *testing.T) {
	var buffer Buffer
	buffer.Append([]byte("hi "))
	if lines := drainLines(&buffer, false); len(lines) != 0 {
		t.Fatalf("got %q after first fragment", lines)
	}
	buffer.Append([]byte("there\n"))
	lines := drainLines(&buffer, false)
	if len(lines) != 1 || lines[0] != "hi there" {
		t.Fatalf("lines = %q, want [\"hi there\"]", lines)
	}
}

// TestExtractLine_ArbitrarySplits feeds random byte sequences through
// the buffer in random chunk sizes and checks that the extracted lines
// equal the input with empty lines removed.
func TestExtractLine_ArbitrarySplits(t *testing.T) {
	random := rand.New(rand.NewPCG(1, 2))
	alphabet := []byte("ab \n\n")

	for trial := 0; trial < 200; trial++ {
		input := make([]byte, random.IntN(200))
		for index := range input {
			input[index] = alphabet[random.IntN(len(alphabet))]
		}

		var buffer Buffer
		var got []string
		for offset := 0; offset < len(input); {
			size := 1 + random.IntN(16)
			if offset+size > len(input) {
				size = len(input) - offset
			}
			buffer.Append(input[offset : offset+size])
			offset += size
			got = append(got, drainLines(&buffer, false)...)
		}

		endsWithNewline := len(input) == 0 || input[len(input)-1] == Newline
		beforeEOF := len(got)
		got = append(got, drainLines(&buffer, true)...)
		if endsWithNewline && len(got) != beforeEOF {
			t.Fatalf("trial %d: end of stream surfaced %q although input ended in a newline", trial, got[beforeEOF:])
		}

		var want []string
		for _, line := range strings.Split(string(input), "\n") {
			if line != "" {
				want = append(want, line)
			}
		}
		if strings.Join(got, "\n") != strings.Join(want, "\n") || len(got) != len(want) {
			t.Fatalf("trial %d: input %q\n got  %q\n want %q", trial, input, got, want)
		}
	}
}

func TestHasLine(t *testing.T) {
	var buffer Buffer
	if HasLine(&buffer, true) {
		t.Error("empty buffer reported a line")
	}
	buffer.Append([]byte("abc"))
	if HasLine(&buffer, false) {
		t.Error("unterminated buffer reported a line before eof")
	}
	if !HasLine(&buffer, true) {
		t.Error("unterminated buffer at eof did not report a line")
	}
	buffer.Append(bytes.Repeat([]byte{Newline}, 2))
	if !HasLine(&buffer, false) {
		t.Error("terminated buffer did not report a line")
	}
}
