package log

import (
	"fmt"
	"strings"
)

const (
	bytesPerRow = 16
	hexColumn   = bytesPerRow*3 - 1
)

var hexHeader = func() string {
	var b strings.Builder
	b.WriteString(strings.Repeat(" ", 10))
	for i := 0; i < bytesPerRow; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%2X", i)
	}
	b.WriteString("  ")
	for i := 0; i < bytesPerRow; i++ {
		fmt.Fprintf(&b, "%X", i)
	}
	b.WriteByte('\n')
	return b.String()
}()

// FormatBytes renders data as a hex table, 16 bytes per row. Control bytes
// (< 0x20) show as '.' in the text column, which is decoded as Latin-1.
func FormatBytes(data []byte) string {
	var b strings.Builder
	b.Grow(len(hexHeader) + (len(data)/bytesPerRow+1)*(10+hexColumn+2+bytesPerRow*2+1))
	b.WriteString(hexHeader)

	for off := 0; off < len(data); off += bytesPerRow {
		end := min(off+bytesPerRow, len(data))
		row := data[off:end]

		fmt.Fprintf(&b, "%08X  ", off)
		for i, c := range row {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%02x", c)
		}
		if pad := hexColumn - (len(row)*3 - 1); pad > 0 {
			b.WriteString(strings.Repeat(" ", pad))
		}
		b.WriteString("  ")
		for _, c := range row {
			if c < 0x20 {
				b.WriteByte('.')
				continue
			}
			b.WriteRune(rune(c))
		}
		b.WriteByte('\n')
	}
	return b.String()
}
