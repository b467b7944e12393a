// Package encoder defines the opaque encoding applied to pagination cursors
// before they cross the API boundary.
package encoder

// Encoder turns a serialized cursor into an opaque string and back.
type Encoder interface {
	Decode(s string) ([]byte, error)
	Encode(data []byte) (string, error)
}
