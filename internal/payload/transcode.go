package payload

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/japanese"

	"github.com/hpungsan/qrform/internal/errors"
)

// ToShiftJIS encodes text as Shift-JIS. A rune outside the repertoire fails
// the conversion; nothing is ever substituted.
func ToShiftJIS(text string) ([]byte, error) {
	out, err := japanese.ShiftJIS.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, errors.NewTranscodeFailed(describeUnsupported(text, err))
	}
	return out, nil
}

// FromShiftJIS decodes Shift-JIS bytes to UTF-8.
func FromShiftJIS(b []byte) (string, error) {
	out, err := japanese.ShiftJIS.NewDecoder().Bytes(b)
	if err != nil {
		return "", errors.NewTranscodeFailed(err)
	}
	return string(out), nil
}

// describeUnsupported names the first rune the encoder rejects.
func describeUnsupported(text string, err error) error {
	if !utf8.ValidString(text) {
		return fmt.Errorf("input is not valid UTF-8: %w", err)
	}
	enc := japanese.ShiftJIS.NewEncoder()
	for i, r := range text {
		if _, rerr := enc.String(string(r)); rerr != nil {
			return fmt.Errorf("character %q (U+%04X) at byte %d has no Shift-JIS form: %w", r, r, i, err)
		}
	}
	return err
}
