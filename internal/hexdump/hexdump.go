// Package hexdump renders a byte range as a 16-column hex/ASCII memory
// dump, grounded on common/fw_flash.c's fw_flash_dump/hex_to_string32/8 —
// reimplemented with fmt instead of building strings byte-by-byte, and
// with an ASCII gutter the original's line-oriented cli_print calls
// didn't have room for.
package hexdump

import (
	"fmt"
	"io"
	"strings"
)

const columns = 16

// Dump writes data, assumed to start at address base, to w in the
// classic "address: hex bytes  |ascii|" layout.
func Dump(w io.Writer, base uint32, data []byte) error {
	for i := 0; i < len(data); i += columns {
		end := i + columns
		if end > len(data) {
			end = len(data)
		}
		line := data[i:end]

		hexParts := make([]string, 0, columns)
		for j := 0; j < columns; j++ {
			if j < len(line) {
				hexParts = append(hexParts, fmt.Sprintf("%02x", line[j]))
			} else {
				hexParts = append(hexParts, "  ")
			}
			if j == 7 {
				hexParts = append(hexParts, "")
			}
		}

		if _, err := fmt.Fprintf(w, "0x%08x: %s  |%s|\r\n", base+uint32(i), strings.Join(hexParts, " "), asciiGutter(line)); err != nil {
			return err
		}
	}
	return nil
}

func asciiGutter(line []byte) string {
	out := make([]byte, len(line))
	for i, b := range line {
		if b >= 0x20 && b < 0x7f {
			out[i] = b
		} else {
			out[i] = '.'
		}
	}
	return string(out)
}

// String returns Dump's output as a single string, for callers that want
// to embed it (tests, the console's "dump" command composing output
// before writing to the terminal).
func String(base uint32, data []byte) string {
	var b strings.Builder
	_ = Dump(&b, base, data)
	return b.String()
}
