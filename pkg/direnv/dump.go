package direnv

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Dump encodes an environment map in the wire format direnv reads
// back: json, zlib compressed, base64url encoded.
func Dump(obj map[string]string) string {
	jsonData, err := json.Marshal(obj)
	if err != nil {
		panic(fmt.Errorf("marshal(): %w", err))
	}

	var zlibData bytes.Buffer
	w := zlib.NewWriter(&zlibData)
	// writing to an in-memory buffer does not fail
	_, _ = w.Write(jsonData)
	w.Close()

	return base64.URLEncoding.EncodeToString(zlibData.Bytes())
}
