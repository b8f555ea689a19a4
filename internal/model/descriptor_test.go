package model

import (
	"encoding/json"
	"errors"
	"testing"
)

const sampleDescriptor = `{
	"version": "0.0.0",
	"aboutMe": {
		"name": "Tokyo Exchange",
		"preferredPrefix": ["8"],
		"identifier": "tokyo",
		"sipUri": "sip:tokyo.example.org",
		"unavailable": false
	},
	"extensions": [
		{"name": "Operator", "extension": "100", "identifier": "op", "type": "phone"},
		{"name": "Fax", "extension": "101", "type": "fax", "transferTo": ["100", "osaka 200"]},
		{"name": "Anonymous", "extension": "102"}
	],
	"providers": [
		{"name": "Osaka", "prefix": "6", "identifier": "osaka", "mantela": "https://osaka.example.org/mantela.json", "unavailable": true},
		{"name": "Kyoto", "prefix": "75", "identifier": "kyoto"}
	]
}`

// TestParseDescriptor tests decoding of mantela.json documents.
func TestParseDescriptor(t *testing.T) {
	t.Parallel()

	d, err := ParseDescriptor([]byte(sampleDescriptor))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("decodes aboutMe known fields", func(t *testing.T) {
		t.Parallel()
		if d.AboutMe == nil {
			t.Fatal("expected aboutMe")
		}
		if d.AboutMe.Identifier != "tokyo" {
			t.Errorf("expected identifier 'tokyo', got %q", d.AboutMe.Identifier)
		}
		if d.AboutMe.Name != "Tokyo Exchange" {
			t.Errorf("expected name 'Tokyo Exchange', got %q", d.AboutMe.Name)
		}
		if d.AboutMe.Unavailable == nil || *d.AboutMe.Unavailable {
			t.Errorf("expected unavailable=false, got %v", d.AboutMe.Unavailable)
		}
	})

	t.Run("keeps unknown aboutMe fields as attributes", func(t *testing.T) {
		t.Parallel()
		if d.AboutMe.Attributes["sipUri"] != "sip:tokyo.example.org" {
			t.Errorf("expected sipUri attribute, got %v", d.AboutMe.Attributes)
		}
		if _, ok := d.AboutMe.Attributes["preferredPrefix"]; !ok {
			t.Error("expected preferredPrefix attribute")
		}
		if _, ok := d.AboutMe.Attributes["identifier"]; ok {
			t.Error("known field must not leak into attributes")
		}
	})

	t.Run("decodes extensions", func(t *testing.T) {
		t.Parallel()
		if len(d.Extensions) != 3 {
			t.Fatalf("expected 3 extensions, got %d", len(d.Extensions))
		}
		fax := d.Extensions[1]
		if fax.Identifier != "" {
			t.Errorf("expected empty identifier, got %q", fax.Identifier)
		}
		if fax.Type != "fax" {
			t.Errorf("expected type fax, got %q", fax.Type)
		}
		if len(fax.TransferTo) != 2 || fax.TransferTo[1] != "osaka 200" {
			t.Errorf("unexpected transferTo: %v", fax.TransferTo)
		}
	})

	t.Run("decodes providers", func(t *testing.T) {
		t.Parallel()
		if len(d.Providers) != 2 {
			t.Fatalf("expected 2 providers, got %d", len(d.Providers))
		}
		osaka := d.Providers[0]
		if osaka.Mantela != "https://osaka.example.org/mantela.json" {
			t.Errorf("unexpected mantela URL %q", osaka.Mantela)
		}
		if osaka.Unavailable == nil || !*osaka.Unavailable {
			t.Error("expected provider unavailable=true")
		}
		if d.Providers[1].Unavailable != nil {
			t.Error("expected unset unavailable on kyoto")
		}
	})

	t.Run("validates", func(t *testing.T) {
		t.Parallel()
		if err := d.Validate(); err != nil {
			t.Errorf("expected valid descriptor, got %v", err)
		}
	})
}

// TestParseDescriptorErrors tests malformed documents.
func TestParseDescriptorErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `<html></html>`},
		{name: "wrong identifier type", body: `{"aboutMe": {"identifier": 42}}`},
		{name: "wrong name type", body: `{"aboutMe": {"identifier": "a", "name": ["A"]}}`},
		{name: "aboutMe not an object", body: `{"aboutMe": "a"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseDescriptor([]byte(tt.body)); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

// TestParseDescriptorOptionalFieldTypes tests that wrongly typed optional
// fields never reject the document.
func TestParseDescriptorOptionalFieldTypes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		body  string
		check func(t *testing.T, d *Descriptor)
	}{
		{
			name: "numeric extension number",
			body: `{"aboutMe": {"identifier": "a"}, "extensions": [{"name": "Phone", "extension": 100, "identifier": 7}]}`,
			check: func(t *testing.T, d *Descriptor) {
				t.Helper()
				if len(d.Extensions) != 1 {
					t.Fatalf("expected 1 extension, got %d", len(d.Extensions))
				}
				if e := d.Extensions[0]; e.Extension != "100" || e.Identifier != "7" {
					t.Errorf("expected extension 100 and identifier 7, got %q and %q", e.Extension, e.Identifier)
				}
			},
		},
		{
			name: "string unavailable on provider",
			body: `{"aboutMe": {"identifier": "a"}, "providers": [{"identifier": "b", "name": "B", "unavailable": "true"}]}`,
			check: func(t *testing.T, d *Descriptor) {
				t.Helper()
				if len(d.Providers) != 1 {
					t.Fatalf("expected 1 provider, got %d", len(d.Providers))
				}
				p := d.Providers[0]
				if p.Unavailable != nil {
					t.Errorf("expected unset unavailable, got %v", *p.Unavailable)
				}
				if p.Attributes["unavailable"] != "true" {
					t.Errorf("expected raw unavailable attribute, got %v", p.Attributes)
				}
			},
		},
		{
			name: "string unavailable on aboutMe",
			body: `{"aboutMe": {"identifier": "a", "unavailable": "yes"}}`,
			check: func(t *testing.T, d *Descriptor) {
				t.Helper()
				if d.AboutMe.Unavailable != nil {
					t.Errorf("expected unset unavailable, got %v", *d.AboutMe.Unavailable)
				}
				if d.AboutMe.Attributes["unavailable"] != "yes" {
					t.Errorf("expected raw unavailable attribute, got %v", d.AboutMe.Attributes)
				}
			},
		},
		{
			name: "scalar transferTo",
			body: `{"aboutMe": {"identifier": "a"}, "extensions": [{"name": "Fax", "transferTo": "100"}]}`,
			check: func(t *testing.T, d *Descriptor) {
				t.Helper()
				if len(d.Extensions) != 1 {
					t.Fatalf("expected 1 extension, got %d", len(d.Extensions))
				}
				e := d.Extensions[0]
				if len(e.TransferTo) != 0 {
					t.Errorf("expected no transfer targets, got %v", e.TransferTo)
				}
				if e.Attributes["transferTo"] != "100" {
					t.Errorf("expected raw transferTo attribute, got %v", e.Attributes)
				}
			},
		},
		{
			name: "mixed transferTo elements",
			body: `{"aboutMe": {"identifier": "a"}, "extensions": [{"transferTo": ["100", 200, {"x": 1}]}]}`,
			check: func(t *testing.T, d *Descriptor) {
				t.Helper()
				got := d.Extensions[0].TransferTo
				if len(got) != 2 || got[0] != "100" || got[1] != "200" {
					t.Errorf("expected [100 200], got %v", got)
				}
			},
		},
		{
			name: "non-object list entries",
			body: `{"aboutMe": {"identifier": "a"}, "extensions": ["x", {"name": "ok"}], "providers": {"identifier": "b"}}`,
			check: func(t *testing.T, d *Descriptor) {
				t.Helper()
				if len(d.Extensions) != 1 || d.Extensions[0].Name != "ok" {
					t.Errorf("expected only the object extension, got %+v", d.Extensions)
				}
				if len(d.Providers) != 0 {
					t.Errorf("expected providers to be ignored, got %+v", d.Providers)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, err := ParseDescriptor([]byte(tt.body))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err := d.Validate(); err != nil {
				t.Fatalf("expected valid descriptor, got %v", err)
			}
			tt.check(t, d)
		})
	}
}

// TestExtensionMarshalJSONKeepsRawFields tests that a kept attribute is not
// replaced by an empty known field.
func TestExtensionMarshalJSONKeepsRawFields(t *testing.T) {
	t.Parallel()

	var e Extension
	if err := json.Unmarshal([]byte(`{"name": "Phone", "extension": {"main": "100"}}`), &e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := got["extension"].(map[string]any); !ok {
		t.Errorf("expected raw extension object to survive, got %v", got["extension"])
	}
}

// TestDescriptorValidate tests the self identity check.
func TestDescriptorValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "complete", body: `{"aboutMe": {"identifier": "a", "name": "A"}}`},
		{name: "missing aboutMe", body: `{"extensions": []}`, wantErr: true},
		{name: "null aboutMe", body: `{"aboutMe": null}`, wantErr: true},
		{name: "blank identifier", body: `{"aboutMe": {"identifier": "  ", "name": "A"}}`, wantErr: true},
		{name: "no name is still usable", body: `{"aboutMe": {"identifier": "a"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, err := ParseDescriptor([]byte(tt.body))
			if err != nil {
				t.Fatalf("unexpected parse error: %v", err)
			}
			err = d.Validate()
			if tt.wantErr && !errors.Is(err, ErrMissingIdentity) {
				t.Errorf("expected ErrMissingIdentity, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

// TestProviderMarshalJSON tests that attributes survive re-encoding.
func TestProviderMarshalJSON(t *testing.T) {
	t.Parallel()

	p := Provider{
		Identifier:  "osaka",
		Name:        "Osaka",
		Prefix:      "6",
		Unavailable: Bool(true),
		Attributes:  map[string]any{"sipUri": "sip:osaka"},
	}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["sipUri"] != "sip:osaka" {
		t.Errorf("expected sipUri to be flattened, got %v", got)
	}
	if got["unavailable"] != true {
		t.Errorf("expected unavailable=true, got %v", got["unavailable"])
	}
	if _, ok := got["mantela"]; ok {
		t.Error("expected empty mantela to be omitted")
	}
}
