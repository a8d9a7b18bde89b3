package publisher

import "github.com/maxpert/groupd/encoding"

// compressedTransformer zstd-compresses the output of another transformer
type compressedTransformer struct {
	inner Transformer
}

func wrapCompression(inner Transformer) (Transformer, error) {
	// Surface codec setup errors when the sink is added, not per event
	if _, err := encoding.Compress(nil); err != nil {
		return nil, err
	}
	return &compressedTransformer{inner: inner}, nil
}

func (c *compressedTransformer) Transform(event MembershipEvent) ([]byte, error) {
	data, err := c.inner.Transform(event)
	if err != nil {
		return nil, err
	}
	return encoding.Compress(data)
}
