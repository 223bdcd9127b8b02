package output

import (
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLWriter writes each envelope as its own YAML document.
type YAMLWriter struct {
	enc *yaml.Encoder
}

// NewYAMLWriter creates a YAML writer.
func NewYAMLWriter(w io.Writer) *YAMLWriter {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	return &YAMLWriter{enc: enc}
}

func (w *YAMLWriter) Write(env Envelope) error {
	return w.enc.Encode(env)
}

func (w *YAMLWriter) Close() error {
	return w.enc.Close()
}
