package payload

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/hpungsan/qrform/internal/errors"
)

// Compress applies raw deflate at the default level. Output carries no
// zlib or gzip framing, and small inputs may grow.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, errors.NewCompressFailed(err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, errors.NewCompressFailed(err)
	}
	if err := w.Close(); err != nil {
		return nil, errors.NewCompressFailed(err)
	}
	return buf.Bytes(), nil
}

// Decompress inflates raw deflate data.
func Decompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.NewCompressFailed(err)
	}
	return out, nil
}
