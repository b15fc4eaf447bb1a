// Package rid implements typed resource identifiers (RIDs) and the
// content-addressed manifest/bundle model built on top of them.
//
// A RID is a globally unique, parseable string of the form
// "orn:<namespace>:<reference>". The namespace identifies the RID type;
// the reference identifies one resource within that type.
package rid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const scheme = "orn"

// Type identifies a RID type by its namespace, e.g. "koi-net.node".
type Type string

// Built-in RID types. Every node understands these regardless of its
// declared profile; they carry the network's own topology.
const (
	NodeType Type = "koi-net.node"
	EdgeType Type = "koi-net.edge"
)

// RID is a typed resource identifier. The zero value is invalid and
// reports IsZero() == true. RIDs are comparable and usable as map keys.
type RID struct {
	Namespace string
	Reference string
}

// New builds a RID from a namespace and reference without validation.
func New(namespace Type, reference string) RID {
	return RID{Namespace: string(namespace), Reference: reference}
}

// Parse decodes an "orn:<namespace>:<reference>" string. The reference
// may itself contain colons.
func Parse(s string) (RID, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] != scheme {
		return RID{}, fmt.Errorf("invalid RID %q: want orn:<namespace>:<reference>", s)
	}
	if parts[1] == "" || parts[2] == "" {
		return RID{}, fmt.Errorf("invalid RID %q: empty namespace or reference", s)
	}
	return RID{Namespace: parts[1], Reference: parts[2]}, nil
}

// MustParse is Parse for trusted literals; it panics on malformed input.
func MustParse(s string) RID {
	r, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return r
}

func (r RID) String() string {
	return scheme + ":" + r.Namespace + ":" + r.Reference
}

// Type returns the RID's type (its namespace).
func (r RID) Type() Type {
	return Type(r.Namespace)
}

// IsZero reports whether the RID is the (invalid) zero value.
func (r RID) IsZero() bool {
	return r.Namespace == "" && r.Reference == ""
}

// MarshalText implements encoding.TextMarshaler so RIDs serialize as
// plain strings, including as JSON map keys.
func (r RID) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *RID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// NewNode mints a node RID from a human-readable name. The reference is
// the name plus a random UUID suffix, so node RIDs are stable only once
// persisted by the identity layer.
func NewNode(name string) RID {
	return RID{
		Namespace: string(NodeType),
		Reference: name + "+" + uuid.NewString(),
	}
}

// NewEdge derives the edge RID for an ordered (source, target) pair of
// node RIDs. The reference is a digest of both endpoints, so there is
// exactly one edge RID per ordered pair.
func NewEdge(source, target RID) RID {
	sum := sha256.Sum256([]byte(source.String() + "+" + target.String()))
	return RID{
		Namespace: string(EdgeType),
		Reference: hex.EncodeToString(sum[:]),
	}
}

// NodeName extracts the human-readable name from a node RID reference,
// or "" if the RID is not a node RID.
func NodeName(r RID) string {
	if r.Type() != NodeType {
		return ""
	}
	if i := strings.LastIndex(r.Reference, "+"); i >= 0 {
		return r.Reference[:i]
	}
	return r.Reference
}
