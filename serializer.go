package profilefs

import "encoding/json"

// Serializer converts values to and from their byte form.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONSerializer is the default Serializer.
type JSONSerializer struct {
	// Indent produces human-readable output
	Indent bool
}

func (s JSONSerializer) Marshal(v any) ([]byte, error) {
	if s.Indent {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}

func (s JSONSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
