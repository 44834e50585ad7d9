package tether

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Codec decodes the payload bytes a Document carries.
// Adapters attach one to every Document they deliver, so Snapshot.Decode
// needs no format knowledge of its own.
type Codec interface {
	Unmarshal(data []byte, v any) error

	// ContentType names the format in decode errors.
	ContentType() string
}

// JSONCodec is the default Codec.
type JSONCodec struct{}

func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (JSONCodec) ContentType() string { return "application/json" }

// YAMLCodec decodes YAML payloads.
type YAMLCodec struct{}

func (YAMLCodec) Unmarshal(data []byte, v any) error { return yaml.Unmarshal(data, v) }

func (YAMLCodec) ContentType() string { return "application/x-yaml" }

// CodecForPath picks a Codec from a key's extension: YAMLCodec for .yaml
// and .yml, JSONCodec for anything else.
func CodecForPath(path string) Codec {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAMLCodec{}
	}
	return JSONCodec{}
}

var (
	_ Codec = JSONCodec{}
	_ Codec = YAMLCodec{}
)
