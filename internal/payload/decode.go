package payload

import (
	"crypto/rsa"
	"encoding/base64"
	"fmt"
)

// Decode recovers the CSV text from a QR string: decrypt, base64 decode,
// inflate, then Shift-JIS to UTF-8. It is meant for consumers holding the
// private key and is not used on the encoding path.
func Decode(priv *rsa.PrivateKey, qr string) (string, error) {
	encoded, err := Decrypt(priv, qr)
	if err != nil {
		return "", err
	}
	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("inner payload is not base64: %w", err)
	}
	sjis, err := Decompress(compressed)
	if err != nil {
		return "", err
	}
	return FromShiftJIS(sjis)
}
