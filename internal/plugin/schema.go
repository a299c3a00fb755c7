// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package plugin

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// SchemaID is the $id of the manifest schema. Manifests may reference it
// from a yaml-language-server comment.
const SchemaID = "https://patchbay.dev/schemas/plugin.schema.json"

// CodeManifestInvalid marks manifests rejected by the schema.
const CodeManifestInvalid = "PLUGIN_MANIFEST_INVALID"

// manifestSchema is compiled once, on first validation.
var manifestSchema = sync.OnceValues(func() (*jschema.Schema, error) {
	raw, err := GenerateSchema()
	if err != nil {
		return nil, err
	}
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, oops.In("plugin").Wrapf(err, "parse generated schema")
	}
	c := jschema.NewCompiler()
	if err := c.AddResource(SchemaID, doc); err != nil {
		return nil, oops.In("plugin").Wrapf(err, "add schema resource")
	}
	return c.Compile(SchemaID)
})

// GenerateSchema reflects the Manifest type into a JSON Schema document.
// Fields use their yaml names and unknown fields are rejected.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
		FieldNameTag:   "yaml",
	}
	s := r.Reflect(&Manifest{})
	s.ID = jsonschema.ID(SchemaID)
	s.Title = "Patchbay Plugin Manifest"
	s.Description = "Schema for plugin.yaml bundle manifests"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, oops.In("plugin").Wrapf(err, "marshal schema")
	}
	return data, nil
}

// ValidateSchema checks a plugin.yaml document against the manifest schema.
// The YAML is re-encoded as JSON first so numbers and maps take the shapes
// the validator expects.
func ValidateSchema(data []byte) error {
	errb := oops.In("plugin").Code(CodeManifestInvalid)
	if len(bytes.TrimSpace(data)) == 0 {
		return errb.Errorf("manifest is empty")
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return errb.Hint("manifest is not valid YAML").Wrap(err)
	}
	asJSON, err := json.Marshal(doc)
	if err != nil {
		return errb.Hint("manifest keys must be strings").Wrap(err)
	}
	inst, err := jschema.UnmarshalJSON(bytes.NewReader(asJSON))
	if err != nil {
		return errb.Wrap(err)
	}

	sch, err := manifestSchema()
	if err != nil {
		return err
	}
	if err := sch.Validate(inst); err != nil {
		return errb.Hint("see " + SchemaID).Wrap(err)
	}
	return nil
}
