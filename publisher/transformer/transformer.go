// Package transformer registers the payload formats available to
// membership sinks.
package transformer

import (
	"encoding/json"

	"github.com/maxpert/groupd/encoding"
	"github.com/maxpert/groupd/publisher"
)

func init() {
	publisher.RegisterTransformer("msgpack", func() publisher.Transformer { return &MsgpackTransformer{} })
	publisher.RegisterTransformer("json", func() publisher.Transformer { return &JSONTransformer{} })
}

// MsgpackTransformer encodes events as msgpack maps keyed by the msgpack tags
type MsgpackTransformer struct{}

// Transform encodes the event
func (MsgpackTransformer) Transform(event publisher.MembershipEvent) ([]byte, error) {
	return encoding.Marshal(event)
}

// JSONTransformer encodes events as JSON objects
type JSONTransformer struct{}

// Transform encodes the event
func (JSONTransformer) Transform(event publisher.MembershipEvent) ([]byte, error) {
	return json.Marshal(event)
}
