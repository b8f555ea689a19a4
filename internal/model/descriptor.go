package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMissingIdentity is returned when a descriptor parses but has no usable
// aboutMe record. Such a document cannot be merged into a graph.
var ErrMissingIdentity = errors.New("descriptor has no aboutMe identifier")

// Descriptor is one mantela.json document.
// It describes a single PBX, the extensions attached to it and the
// provider PBXs it is connected to.
type Descriptor struct {
	// AboutMe is the self record. Nil when the document omits it.
	AboutMe *AboutMe `json:"aboutMe,omitempty"`

	// Extensions are the terminals attached to this PBX.
	Extensions []Extension `json:"extensions,omitempty"`

	// Providers are peer or upstream PBXs reachable from this PBX.
	Providers []Provider `json:"providers,omitempty"`
}

// Validate reports whether the descriptor carries a usable self identity.
func (d *Descriptor) Validate() error {
	if d == nil || d.AboutMe == nil {
		return ErrMissingIdentity
	}
	if strings.TrimSpace(d.AboutMe.Identifier) == "" {
		return ErrMissingIdentity
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
// Only the self record must be well formed. Extension and provider entries
// that are not objects are dropped, as are the lists themselves when they
// are not arrays.
func (d *Descriptor) UnmarshalJSON(data []byte) error {
	fields, err := decodeObject(data)
	if err != nil {
		return err
	}

	if raw, ok := fields["aboutMe"]; ok && !isNull(raw) {
		d.AboutMe = &AboutMe{}
		if err := json.Unmarshal(raw, d.AboutMe); err != nil {
			return err
		}
	}
	for _, raw := range objectList(fields["extensions"]) {
		var e Extension
		if err := json.Unmarshal(raw, &e); err == nil {
			d.Extensions = append(d.Extensions, e)
		}
	}
	for _, raw := range objectList(fields["providers"]) {
		var p Provider
		if err := json.Unmarshal(raw, &p); err == nil {
			d.Providers = append(d.Providers, p)
		}
	}
	return nil
}

// ParseDescriptor decodes a mantela.json document.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse descriptor: %w", err)
	}
	return &d, nil
}

// AboutMe is the self record of a descriptor.
type AboutMe struct {
	Identifier  string
	Name        string
	Unavailable *bool

	// Attributes holds every other field of the record, untouched.
	Attributes map[string]any
}

// UnmarshalJSON implements json.Unmarshaler.
// identifier and name must be strings. An unavailable flag of another type
// is kept in Attributes.
func (a *AboutMe) UnmarshalJSON(data []byte) error {
	fields, err := decodeObject(data)
	if err != nil {
		return fmt.Errorf("aboutMe: %w", err)
	}

	if err := requireString(fields, "identifier", &a.Identifier); err != nil {
		return fmt.Errorf("aboutMe: %w", err)
	}
	if err := requireString(fields, "name", &a.Name); err != nil {
		return fmt.Errorf("aboutMe: %w", err)
	}
	takeBool(fields, "unavailable", &a.Unavailable)

	a.Attributes, err = extraAttributes(fields)
	return err
}

// MarshalJSON implements json.Marshaler.
func (a AboutMe) MarshalJSON() ([]byte, error) {
	out := copyAttributes(a.Attributes)
	putString(out, "identifier", a.Identifier)
	putString(out, "name", a.Name)
	if a.Unavailable != nil {
		out["unavailable"] = *a.Unavailable
	}
	return json.Marshal(out)
}

// Extension is one terminal entry of a descriptor.
type Extension struct {
	// Identifier is the stable id of the extension within its PBX.
	// It may be empty, in which case the crawler synthesises one.
	Identifier string
	Name       string

	// Extension is the dialable extension number.
	Extension string

	// Type is the device tag (phone, fax, modem, alias, ...).
	Type string

	Unavailable *bool

	// TransferTo lists forwarding targets. A target without a space is
	// local to the same PBX; one with a space is fully qualified.
	TransferTo []string

	Attributes map[string]any
}

// UnmarshalJSON implements json.Unmarshaler.
// Numbers and booleans are accepted where a string is expected. Values that
// cannot be used are kept in Attributes.
func (e *Extension) UnmarshalJSON(data []byte) error {
	fields, err := decodeObject(data)
	if err != nil {
		return fmt.Errorf("extension: %w", err)
	}

	takeString(fields, "identifier", &e.Identifier)
	takeString(fields, "name", &e.Name)
	takeString(fields, "extension", &e.Extension)
	takeString(fields, "type", &e.Type)
	takeBool(fields, "unavailable", &e.Unavailable)
	takeStrings(fields, "transferTo", &e.TransferTo)

	e.Attributes, err = extraAttributes(fields)
	return err
}

// MarshalJSON implements json.Marshaler.
func (e Extension) MarshalJSON() ([]byte, error) {
	out := copyAttributes(e.Attributes)
	if e.Identifier != "" {
		out["identifier"] = e.Identifier
	}
	putString(out, "name", e.Name)
	putString(out, "extension", e.Extension)
	if e.Type != "" {
		out["type"] = e.Type
	}
	if e.Unavailable != nil {
		out["unavailable"] = *e.Unavailable
	}
	if len(e.TransferTo) > 0 {
		out["transferTo"] = e.TransferTo
	}
	return json.Marshal(out)
}

// Provider is a reference to a peer PBX.
type Provider struct {
	Identifier string
	Name       string

	// Prefix is the routing prefix used to reach the provider.
	Prefix string

	// Mantela is the URL of the provider's own descriptor, if published.
	Mantela string

	// Unavailable is the referencing PBX's opinion about the link.
	Unavailable *bool

	Attributes map[string]any
}

// UnmarshalJSON implements json.Unmarshaler.
// It is as lenient as Extension.UnmarshalJSON.
func (p *Provider) UnmarshalJSON(data []byte) error {
	fields, err := decodeObject(data)
	if err != nil {
		return fmt.Errorf("provider: %w", err)
	}

	takeString(fields, "identifier", &p.Identifier)
	takeString(fields, "name", &p.Name)
	takeString(fields, "prefix", &p.Prefix)
	takeString(fields, "mantela", &p.Mantela)
	takeBool(fields, "unavailable", &p.Unavailable)

	p.Attributes, err = extraAttributes(fields)
	return err
}

// MarshalJSON implements json.Marshaler.
func (p Provider) MarshalJSON() ([]byte, error) {
	out := copyAttributes(p.Attributes)
	putString(out, "identifier", p.Identifier)
	putString(out, "name", p.Name)
	putString(out, "prefix", p.Prefix)
	if p.Mantela != "" {
		out["mantela"] = p.Mantela
	}
	if p.Unavailable != nil {
		out["unavailable"] = *p.Unavailable
	}
	return json.Marshal(out)
}

func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}
	return fields, nil
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

// objectList returns the object elements of a JSON array. Anything that is
// not an array yields nil.
func objectList(raw json.RawMessage) []json.RawMessage {
	var items []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil {
		return nil
	}
	objects := items[:0]
	for _, item := range items {
		if t := strings.TrimSpace(string(item)); strings.HasPrefix(t, "{") {
			objects = append(objects, item)
		}
	}
	return objects
}

// scalarString converts a JSON string, number or boolean to its text.
func scalarString(raw json.RawMessage) (string, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	switch v := v.(type) {
	case string:
		return v, true
	case float64, bool:
		return strings.TrimSpace(string(raw)), true
	}
	return "", false
}

// requireString consumes fields[key], which must be a string or null.
func requireString(fields map[string]json.RawMessage, key string, dst *string) error {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	if !isNull(raw) {
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	delete(fields, key)
	return nil
}

// takeString consumes fields[key] when it is null or a scalar.
// Other values stay in fields.
func takeString(fields map[string]json.RawMessage, key string, dst *string) {
	raw, ok := fields[key]
	if !ok {
		return
	}
	if !isNull(raw) {
		v, ok := scalarString(raw)
		if !ok {
			return
		}
		*dst = v
	}
	delete(fields, key)
}

// takeBool consumes fields[key] into a tri-state bool when it is null or a
// boolean. Other values stay in fields.
func takeBool(fields map[string]json.RawMessage, key string, dst **bool) {
	raw, ok := fields[key]
	if !ok {
		return
	}
	if !isNull(raw) {
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return
		}
		*dst = &v
	}
	delete(fields, key)
}

// takeStrings consumes fields[key] when it is null or an array. Scalar
// elements are converted to text and other elements are dropped. Values
// that are not arrays stay in fields.
func takeStrings(fields map[string]json.RawMessage, key string, dst *[]string) {
	raw, ok := fields[key]
	if !ok {
		return
	}
	if !isNull(raw) {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return
		}
		for _, item := range items {
			if v, ok := scalarString(item); ok {
				*dst = append(*dst, v)
			}
		}
	}
	delete(fields, key)
}

// extraAttributes decodes every field that was not consumed.
func extraAttributes(fields map[string]json.RawMessage) (map[string]any, error) {
	attrs := make(map[string]any, len(fields))
	for k, raw := range fields {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		attrs[k] = v
	}
	return attrs, nil
}

// putString sets out[key] unless v is empty and an attribute of that name
// is already present.
func putString(out map[string]any, key, v string) {
	if _, ok := out[key]; ok && v == "" {
		return
	}
	out[key] = v
}

func copyAttributes(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs)+4)
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

// Bool returns a pointer to v. It is a convenience for tri-state fields.
func Bool(v bool) *bool {
	return &v
}
