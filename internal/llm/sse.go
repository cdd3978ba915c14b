package llm

import (
	"bufio"
	"bytes"
	"io"
)

// sseReader splits a text/event-stream body into event payloads.
type sseReader struct {
	r *bufio.Reader
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{r: bufio.NewReader(r)}
}

// next returns the data of the next event, joining multi-line data with
// newlines. Fields other than data are ignored. The read error, io.EOF at the
// end of the body, is returned once no buffered event is left.
func (s *sseReader) next() ([]byte, error) {
	var data [][]byte
	for {
		line, err := s.r.ReadBytes('\n')
		line = bytes.TrimRight(line, "\r\n")
		if payload, ok := bytes.CutPrefix(line, []byte("data:")); ok {
			data = append(data, bytes.TrimPrefix(payload, []byte(" ")))
		}
		if (len(line) == 0 || err != nil) && len(data) > 0 {
			return bytes.Join(data, []byte("\n")), nil
		}
		if err != nil {
			return nil, err
		}
	}
}
