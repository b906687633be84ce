// Package checksum computes base64 MD5 and CRC32C digests over transferred
// bytes and extracts the server's digest from X-Goog-Hash headers or object
// metadata.
package checksum

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash"
	"hash/crc32"
	"net/http"
	"strings"

	"github.com/adamwoolhether/resumable/transfer"
)

// HashHeader carries comma separated algorithm=digest pairs.
const HashHeader = "X-Goog-Hash"

// Algorithm selects the digest computed over transferred bytes.
type Algorithm string

const (
	MD5    Algorithm = "md5"
	CRC32C Algorithm = "crc32c"
	None   Algorithm = "none"
)

// ParseAlgorithm maps a user supplied name to an Algorithm. "none" and
// "" both disable checksumming.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToLower(name) {
	case "md5":
		return MD5, nil
	case "crc32c":
		return CRC32C, nil
	case "", "none":
		return None, nil
	default:
		return None, fmt.Errorf("%w: %q", transfer.ErrUnsupportedAlgorithm, name)
	}
}

// metadataKey is the field of a JSON object resource holding the digest.
func (a Algorithm) metadataKey() string {
	switch a {
	case MD5:
		return "md5Hash"
	case CRC32C:
		return "crc32c"
	default:
		return ""
	}
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Hasher accumulates a digest. Callers must feed each byte exactly once,
// in order, as it crosses the wire.
type Hasher struct {
	alg Algorithm
	h   hash.Hash
}

// New returns a Hasher for alg. A None Hasher accepts writes and
// produces an empty digest; the empty Algorithm is treated as None.
func New(alg Algorithm) (*Hasher, error) {
	switch alg {
	case MD5:
		return &Hasher{alg: alg, h: md5.New()}, nil
	case CRC32C:
		return &Hasher{alg: alg, h: crc32.New(castagnoli)}, nil
	case None, "":
		return &Hasher{alg: None}, nil
	default:
		return nil, fmt.Errorf("%w: %q", transfer.ErrUnsupportedAlgorithm, alg)
	}
}

// Algorithm returns the selected algorithm.
func (h *Hasher) Algorithm() Algorithm { return h.alg }

// Enabled reports whether a digest is being computed.
func (h *Hasher) Enabled() bool { return h != nil && h.h != nil }

func (h *Hasher) Write(p []byte) (int, error) {
	if h.h == nil {
		return len(p), nil
	}
	return h.h.Write(p)
}

// Sum returns the base64 encoded digest of everything written so far.
func (h *Hasher) Sum() string {
	if h.h == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(h.h.Sum(nil))
}

// Verify compares the accumulated digest against expected, returning a
// [*transfer.DataCorruptionError] on mismatch.
func (h *Hasher) Verify(resp *http.Response, url, expected string) error {
	if !h.Enabled() || expected == "" {
		return nil
	}

	if actual := h.Sum(); actual != expected {
		return &transfer.DataCorruptionError{
			Response:  resp,
			URL:       url,
			Algorithm: string(h.alg),
			Expected:  expected,
			Actual:    actual,
		}
	}

	return nil
}

// Expected returns the digest for alg reported in the hash header of h.
// An empty result with a nil error means the server sent no digest for
// alg and no verification is possible.
func Expected(h http.Header, alg Algorithm) (string, error) {
	if alg == None || alg == "" {
		return "", nil
	}

	var found []string
	for _, v := range h.Values(HashHeader) {
		for pair := range strings.SplitSeq(v, ",") {
			name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok || name != string(alg) {
				continue
			}
			found = append(found, value)
		}
	}

	switch len(found) {
	case 0:
		return "", nil
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("%w: %s header had multiple %q values: %s",
			transfer.ErrMalformedHeader, HashHeader, alg, strings.Join(found, ", "))
	}
}

// FromMetadata returns the digest for alg from a JSON object resource, as
// returned when an upload completes. Missing fields yield "".
func FromMetadata(body []byte, alg Algorithm) (string, error) {
	key := alg.metadataKey()
	if key == "" || len(body) == 0 {
		return "", nil
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return "", fmt.Errorf("decoding object metadata: %w", err)
	}

	v, _ := obj[key].(string)
	return v, nil
}

// Of returns the base64 digest of p under alg.
func Of(alg Algorithm, p []byte) (string, error) {
	h, err := New(alg)
	if err != nil {
		return "", err
	}
	_, _ = h.Write(p)
	return h.Sum(), nil
}
