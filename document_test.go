package tether

import (
	"errors"
	"strings"
	"testing"
)

func TestDocument_DecodeDefaultsToJSON(t *testing.T) {
	doc := NewDocument("profiles/ada", []byte(`{"name":"Ada"}`), 3, nil)

	if !doc.Exists() {
		t.Fatal("expected document to exist")
	}
	var p profile
	if err := doc.Decode(&p, SnapshotOptions{}); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if p.Name != "Ada" {
		t.Errorf("expected Ada, got %q", p.Name)
	}
	if doc.Revision != 3 {
		t.Errorf("expected revision 3, got %d", doc.Revision)
	}
}

func TestDocument_DecodeWithCodec(t *testing.T) {
	doc := NewDocument("profiles/ada", []byte("name: Ada"), 0, YAMLCodec{})

	var p profile
	if err := doc.Decode(&p, SnapshotOptions{}); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if p.Name != "Ada" {
		t.Errorf("expected Ada, got %q", p.Name)
	}
}

func TestDocument_DecodeMissing(t *testing.T) {
	doc := MissingDocument("profiles/none", nil)

	if doc.Exists() {
		t.Error("expected missing document")
	}
	var p profile
	if err := doc.Decode(&p, SnapshotOptions{}); !errors.Is(err, ErrNoDocument) {
		t.Errorf("expected ErrNoDocument, got %v", err)
	}
}

func TestDocument_DecodeErrorNamesKeyAndFormat(t *testing.T) {
	doc := NewDocument("profiles/bad", []byte("{"), 0, JSONCodec{})

	var p profile
	err := doc.Decode(&p, SnapshotOptions{})
	if err == nil {
		t.Fatal("expected decode error")
	}
	if !strings.Contains(err.Error(), "profiles/bad") || !strings.Contains(err.Error(), "application/json") {
		t.Errorf("expected key and content type in error, got %q", err)
	}
}
