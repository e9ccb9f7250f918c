package stream

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Event names used on the wire.
const (
	EventMessage = "message"
	EventError   = "error"
)

// Event is one dispatched server-sent event.
type Event struct {
	Name string
	ID   string
	Data []byte
}

// WriteEvent encodes one event. Multi-line data is split across data fields.
func WriteEvent(w io.Writer, name string, data []byte) error {
	var b bytes.Buffer
	if name != "" && name != EventMessage {
		fmt.Fprintf(&b, "event: %s\n", name)
	} else {
		b.WriteString("event: message\n")
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		b.WriteString("data: ")
		b.Write(bytes.TrimSuffix(line, []byte("\r")))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	_, err := w.Write(b.Bytes())
	return err
}

// WriteComment writes a comment line, used as a keep-alive.
func WriteComment(w io.Writer, text string) error {
	_, err := fmt.Fprintf(w, ": %s\n\n", text)
	return err
}

// Reader decodes an event stream. Lines may be of any length.
type Reader struct {
	br *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// Next blocks until a complete event is available. An event cut short by
// the end of the stream is discarded and io.EOF returned.
func (r *Reader) Next() (Event, error) {
	var (
		name    string
		id      string
		data    bytes.Buffer
		hasData bool
	)
	for {
		line, err := r.br.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Event{}, io.EOF
			}
			return Event{}, err
		}
		line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")

		if line == "" {
			if !hasData {
				name, id = "", ""
				continue
			}
			if name == "" {
				name = EventMessage
			}
			return Event{Name: name, ID: id, Data: data.Bytes()}, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "id":
			id = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		}
	}
}
