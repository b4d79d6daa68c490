package domain

import (
	"bytes"
	"errors"

	"github.com/bytedance/sonic"
)

// Ref is a reference to another backend entity. The backend sends either the
// bare identifier or a populated object, so both forms decode into Ref.
type Ref struct {
	ID   string
	Name string
}

// MarshalJSON always writes the bare identifier, which is what write
// endpoints expect.
func (r Ref) MarshalJSON() ([]byte, error) {
	if r.ID == "" {
		return []byte("null"), nil
	}
	return sonic.Marshal(r.ID)
}

func (r *Ref) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = Ref{}
		return nil
	}
	switch data[0] {
	case '"':
		var id string
		if err := sonic.Unmarshal(data, &id); err != nil {
			return err
		}
		*r = Ref{ID: id}
		return nil
	case '{':
		var obj struct {
			ID   string `json:"_id"`
			Name string `json:"name"`
		}
		if err := sonic.Unmarshal(data, &obj); err != nil {
			return err
		}
		*r = Ref{ID: obj.ID, Name: obj.Name}
		return nil
	}
	return errors.New("reference must be a string or an object")
}

// IsZero lets encoders honour omitempty.
func (r Ref) IsZero() bool {
	return r.ID == ""
}

// Refs builds references from bare identifiers.
func Refs(ids ...string) []Ref {
	out := make([]Ref, 0, len(ids))
	for _, id := range ids {
		out = append(out, Ref{ID: id})
	}
	return out
}
