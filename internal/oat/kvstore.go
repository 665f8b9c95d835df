package oat

import (
	"bytes"
	"io"
)

// KVPair is one key/value entry of the header's key-value store.
type KVPair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ParseKeyValueStore splits raw into NUL-terminated key/value pairs.
// A lone trailing key with no value is dropped. A final value that
// runs to the end of the store without a NUL is kept in full.
func ParseKeyValueStore(raw []byte) []KVPair {
	var out []KVPair
	for len(raw) > 0 {
		ki := bytes.IndexByte(raw, 0)
		if ki < 0 {
			// Key with no terminator and no value.
			break
		}
		key := string(raw[:ki])
		raw = raw[ki+1:]
		if len(raw) == 0 {
			break
		}
		vi := bytes.IndexByte(raw, 0)
		if vi < 0 {
			out = append(out, KVPair{Key: key, Value: string(raw)})
			break
		}
		out = append(out, KVPair{Key: key, Value: string(raw[:vi])})
		raw = raw[vi+1:]
	}
	return out
}

// BuildKeyValueStore returns the fixed store a build emits. The pairs
// and their order match what dex2oat writes for a verify-none compile.
func BuildKeyValueStore(imageLocation string) []KVPair {
	return []KVPair{
		{"classpath", ""},
		{"compiler-filter", "verify-none"},
		{"debuggable", "false"},
		{"dex2oat-cmdline", "--oat-file=/dev/null --dex-file=/dev/null"},
		{"dex2oat-host", "X86"},
		{"has-patch-info", "false"},
		{"native-debuggable", "false"},
		{"image-location", imageLocation},
		{"pic", "false"},
	}
}

// KeyValueStoreSize returns the encoded size of pairs.
func KeyValueStoreSize(pairs []KVPair) uint32 {
	var n uint32
	for _, p := range pairs {
		n += uint32(len(p.Key)) + 1 + uint32(len(p.Value)) + 1
	}
	return n
}

// WriteKeyValueStore encodes pairs as NUL-terminated strings.
func WriteKeyValueStore(w io.Writer, pairs []KVPair) error {
	for _, p := range pairs {
		if _, err := io.WriteString(w, p.Key); err != nil {
			return err
		}
		if _, err := w.Write([]byte{0}); err != nil {
			return err
		}
		if _, err := io.WriteString(w, p.Value); err != nil {
			return err
		}
		if _, err := w.Write([]byte{0}); err != nil {
			return err
		}
	}
	return nil
}
