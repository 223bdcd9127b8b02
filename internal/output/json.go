package output

import (
	"bufio"
	"encoding/json"
	"io"
)

// JSONWriter buffers envelopes and writes them on Close: one envelope as an
// object, several as an array.
type JSONWriter struct {
	w      *bufio.Writer
	pretty bool
	indent string
	items  []Envelope
}

// NewJSONWriter creates a JSON writer.
func NewJSONWriter(w io.Writer, pretty bool, indent string) *JSONWriter {
	return &JSONWriter{
		w:      bufio.NewWriter(w),
		pretty: pretty,
		indent: indent,
	}
}

func (w *JSONWriter) Write(env Envelope) error {
	w.items = append(w.items, env)
	return nil
}

func (w *JSONWriter) Close() error {
	if len(w.items) == 0 {
		return w.w.Flush()
	}

	var v any = w.items
	if len(w.items) == 1 {
		v = w.items[0]
	}
	var (
		data []byte
		err  error
	)
	if w.pretty {
		data, err = json.MarshalIndent(v, "", w.indent)
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return err
	}
	w.items = nil

	if _, err := w.w.Write(append(data, '\n')); err != nil {
		return err
	}
	return w.w.Flush()
}

// JSONLWriter writes one envelope per line as it arrives.
type JSONLWriter struct {
	enc *json.Encoder
}

// NewJSONLWriter creates a JSONL writer.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{enc: json.NewEncoder(w)}
}

func (w *JSONLWriter) Write(env Envelope) error {
	return w.enc.Encode(env)
}

func (w *JSONLWriter) Close() error { return nil }
