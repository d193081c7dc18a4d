package camera

import (
	"bufio"
	"bytes"
	"io"
)

var (
	jpegSOI = []byte{0xFF, 0xD8} // Start of Image
	jpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// maxFrameSize bounds a single JPEG token in a stream.
const maxFrameSize = 8 << 20

// SplitJpeg is a bufio.SplitFunc that extracts complete JPEG images from a
// byte stream by locating the SOI (FFD8) and EOI (FFD9) markers. Bytes
// outside a marker pair (multipart boundaries, headers) are skipped.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, jpegSOI)
	if start == -1 {
		// keep a trailing 0xFF, it may begin the next SOI
		if n := len(data); n > 1 {
			return n - 1, nil, nil
		}
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], jpegEOI)
	if end == -1 {
		return start, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// newFrameScanner returns a scanner yielding one JPEG per token.
func newFrameScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256*1024), maxFrameSize)
	scanner.Split(SplitJpeg)
	return scanner
}
