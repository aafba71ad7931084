package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/tidwall/gjson"
)

// Encode serializes a document with sorted top-level keys and two-space
// indentation. Equal documents always encode to equal bytes.
func Encode(v any) ([]byte, error) {
	raw, ok := v.(map[string]json.RawMessage)
	if !ok {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding document: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("document is not a JSON object: %w", err)
		}
	}
	out, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	return append(out, '\n'), nil
}

// ReadFile returns the raw bytes of the document at path. found is false when
// the file does not exist.
func ReadFile(path string) (data []byte, found bool, err error) {
	data, err = os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, true, nil
}

// PeekVersion returns the explicit version field of a raw document, or "".
func PeekVersion(data []byte) string {
	return gjson.GetBytes(data, "version").String()
}
