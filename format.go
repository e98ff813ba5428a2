package compute

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// elideAbove is the length past which FormatArray elides the middle.
const elideAbove = 8

// SuccessiveArray returns 1, 2, ..., n.
func SuccessiveArray(n int) []uint32 {
	if n <= 0 {
		return nil
	}
	a := make([]uint32, n)
	for i := range a {
		a[i] = uint32(i + 1)
	}
	return a
}

// FormatArray renders a as "title: e0,e1,...". Arrays longer than eight
// elements show the first four, an elision marker, then the last element:
//
//	outputs: 2,4,6,8,...,32
func FormatArray(title string, a []uint32) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString(": ")
	if len(a) <= elideAbove {
		writeElems(&b, a)
		return b.String()
	}
	writeElems(&b, a[:4])
	b.WriteString(",...,")
	b.WriteString(strconv.FormatUint(uint64(a[len(a)-1]), 10))
	return b.String()
}

func writeElems(b *strings.Builder, a []uint32) {
	for i, v := range a {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatUint(uint64(v), 10))
	}
}

// PrintArray writes FormatArray(title, a) and a newline to w.
func PrintArray(w io.Writer, title string, a []uint32) error {
	_, err := fmt.Fprintln(w, FormatArray(title, a))
	return err
}
