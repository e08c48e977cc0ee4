package profilefs

import (
	"slices"
	"time"
)

// FileGroup tells how a stored value is encoded.
type FileGroup uint8

const (
	// GroupSerializable values are encoded with the Serializer
	GroupSerializable FileGroup = iota
	// GroupOpaque values are caller-provided bytes stored as-is
	GroupOpaque
)

// String returns the string representation of the file group
func (g FileGroup) String() string {
	switch g {
	case GroupSerializable:
		return "serializable"
	case GroupOpaque:
		return "opaque"
	default:
		return "unknown"
	}
}

// opaqueTag is the type tag of values stored with StoreRaw
const opaqueTag = "opaque"

// FileHeader describes one key stored in a profile. Headers are persisted in
// the profile header file; content lives in a separate file per key.
type FileHeader struct {
	Key      string    `json:"key"`
	Type     string    `json:"type"`
	Group    FileGroup `json:"group"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
	Tags     []string  `json:"tags,omitempty"`
	Checksum uint64    `json:"checksum,omitempty"`
}

// HasTag reports whether the header carries tag.
func (h FileHeader) HasTag(tag string) bool {
	return slices.Contains(h.Tags, tag)
}

func (h *FileHeader) clone() FileHeader {
	c := *h
	c.Tags = slices.Clone(h.Tags)
	return c
}

type storeOptions struct {
	tags    []string
	addTags bool
}

// StoreOption configures a Store call.
type StoreOption func(*storeOptions)

// WithTags replaces the tags of the stored key.
func WithTags(tags ...string) StoreOption {
	return func(o *storeOptions) {
		o.tags = tags
		o.addTags = false
	}
}

// AddTags adds tags to the stored key, keeping existing ones.
func AddTags(tags ...string) StoreOption {
	return func(o *storeOptions) {
		o.tags = tags
		o.addTags = true
	}
}

func (o storeOptions) apply(h *FileHeader) {
	if o.tags == nil {
		return
	}
	if !o.addTags {
		h.Tags = slices.Clone(o.tags)
		return
	}
	for _, t := range o.tags {
		if !slices.Contains(h.Tags, t) {
			h.Tags = append(h.Tags, t)
		}
	}
}
