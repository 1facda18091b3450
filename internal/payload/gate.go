package payload

import (
	"encoding/base64"

	"github.com/hpungsan/qrform/internal/errors"
)

// Gated is a compressed payload encoded as base64 and measured against a limit.
type Gated struct {
	Encoded string
	Size    int
	Limit   int
	Over    bool
}

// Gate base64-encodes compressed bytes and compares the encoded length with
// maxBytes. A length equal to the limit passes; anything longer is over.
func Gate(compressed []byte, maxBytes int) Gated {
	encoded := base64.StdEncoding.EncodeToString(compressed)
	return Gated{
		Encoded: encoded,
		Size:    len(encoded),
		Limit:   maxBytes,
		Over:    len(encoded) > maxBytes,
	}
}

// Err returns PAYLOAD_TOO_LARGE for an over-limit payload.
func (g Gated) Err() error {
	if !g.Over {
		return nil
	}
	return errors.NewPayloadTooLarge(g.Limit, g.Size)
}
