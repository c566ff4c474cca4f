package rq

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
)

// inflate returns the zlib-decompressed payload, or b unchanged when it is
// not zlib data.
func inflate(b []byte) []byte {
	if len(b) < 2 {
		return b
	}
	r, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return b
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return b
	}
	return out
}

func deflate(b []byte) []byte {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, _ = w.Write(b)
	_ = w.Close()
	return buf.Bytes()
}

func decodeJSON(raw []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(out)
}

// decodeData unpacks RQ's [func_name, instance, args, kwargs] tuple.
func decodeData(raw []byte) (string, []any, map[string]any, error) {
	var parts []json.RawMessage
	if err := decodeJSON(inflate(raw), &parts); err != nil {
		return "", nil, nil, fmt.Errorf("decode job data: %w", err)
	}
	if len(parts) != 4 {
		return "", nil, nil, fmt.Errorf("decode job data: expected 4 elements, got %d", len(parts))
	}
	var (
		funcName string
		args     []any
		kwargs   map[string]any
	)
	if err := decodeJSON(parts[0], &funcName); err != nil {
		return "", nil, nil, fmt.Errorf("decode job func name: %w", err)
	}
	if err := decodeJSON(parts[2], &args); err != nil {
		return "", nil, nil, fmt.Errorf("decode job args: %w", err)
	}
	if err := decodeJSON(parts[3], &kwargs); err != nil {
		return "", nil, nil, fmt.Errorf("decode job kwargs: %w", err)
	}
	return funcName, args, kwargs, nil
}

func encodeData(funcName string, args []any, kwargs map[string]any) ([]byte, error) {
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	raw, err := json.Marshal([]any{funcName, nil, args, kwargs})
	if err != nil {
		return nil, fmt.Errorf("encode job data: %w", err)
	}
	return deflate(raw), nil
}
