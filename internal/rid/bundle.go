package rid

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Manifest identifies one version of a bundle. Two manifests describe
// equivalent knowledge iff their content digests match; timestamps are
// wall-clock and only used for tie-breaking, never assumed monotonic.
type Manifest struct {
	RID           RID       `json:"rid"`
	Timestamp     time.Time `json:"timestamp"`
	ContentDigest string    `json:"content_digest"`
}

// Bundle pairs a manifest with its contents. Bundles are immutable once
// their manifest exists; a newer bundle for the same RID replaces the
// old one wholesale.
type Bundle struct {
	Manifest Manifest       `json:"manifest"`
	Contents map[string]any `json:"contents"`
}

// Digest computes the content digest: the hex SHA-256 of the canonical
// JSON encoding of contents. encoding/json sorts map keys, which is the
// canonical form used across the network.
func Digest(contents map[string]any) (string, error) {
	data, err := json.Marshal(contents)
	if err != nil {
		return "", fmt.Errorf("digest contents: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Generate builds a bundle for rid with a fresh manifest stamped now.
func Generate(r RID, contents map[string]any) (Bundle, error) {
	digest, err := Digest(contents)
	if err != nil {
		return Bundle{}, err
	}
	return Bundle{
		Manifest: Manifest{
			RID:           r,
			Timestamp:     time.Now().UTC(),
			ContentDigest: digest,
		},
		Contents: contents,
	}, nil
}

// RID returns the bundle's resource identifier.
func (b Bundle) RID() RID {
	return b.Manifest.RID
}

// Validate checks the manifest/contents invariant: the recorded digest
// must match the digest of the contents.
func (b Bundle) Validate() error {
	digest, err := Digest(b.Contents)
	if err != nil {
		return err
	}
	if digest != b.Manifest.ContentDigest {
		return fmt.Errorf("bundle %s: content digest mismatch (manifest %s, contents %s)",
			b.Manifest.RID, b.Manifest.ContentDigest, digest)
	}
	return nil
}
