package derived

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/c360/semtwin/config"
	"github.com/c360/semtwin/criterion"
	"github.com/c360/semtwin/errors"
	"github.com/c360/semtwin/snapshot"
	rtypes "github.com/c360/semtwin/types/rule"
)

//go:embed derived.schema.json
var specSchemaJSON []byte

var specSchema = func() *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(specSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("derived: spec schema: %v", err))
	}
	return s
}()

// ErrInvalidSpec marks documents that fail validation
var ErrInvalidSpec = stderrors.New("invalid derived rule")

// ResourceRef names a resource. Provider is optional where an action
// applies to every selected provider.
type ResourceRef struct {
	Provider string `json:"provider,omitempty"`
	Service  string `json:"service"`
	Resource string `json:"resource"`
}

func (r ResourceRef) String() string {
	if r.Provider == "" {
		return r.Service + "/" + r.Resource
	}
	return r.Provider + "/" + r.Service + "/" + r.Resource
}

// Action configures what a rule writes
type Action struct {
	Type     string       `json:"type"`
	Function string       `json:"function,omitempty"`
	Source   *ResourceRef `json:"source,omitempty"`
	Target   ResourceRef  `json:"target"`
	Value    any          `json:"value,omitempty"`
}

// Spec is one derived rule
type Spec struct {
	ID           string          `json:"id"`
	Name         string          `json:"name,omitempty"`
	Description  string          `json:"description,omitempty"`
	Enabled      *bool           `json:"enabled,omitempty"`
	Selectors    json.RawMessage `json:"selectors"`
	MinProviders int             `json:"min_providers,omitempty"`
	Action       Action          `json:"action"`
}

// IsEnabled reports whether the rule should be registered. Rules are
// enabled unless stated otherwise.
func (s Spec) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Properties returns the registration properties of the rule
func (s Spec) Properties() rtypes.Properties {
	name := s.Name
	if name == "" {
		name = s.ID
	}
	return rtypes.Properties{rtypes.PropertyID: s.ID, rtypes.PropertyName: name}
}

// Parse decodes a JSON document holding one spec or a list
func Parse(data []byte) ([]Spec, error) {
	result, err := specSchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", ErrInvalidSpec, err),
			"derived", "Parse", "decode document")
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.Field()+": "+desc.Description())
		}
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", ErrInvalidSpec, strings.Join(msgs, "; ")),
			"derived", "Parse", "validate document")
	}

	trimmed := bytes.TrimSpace(data)
	var specs []Spec
	if trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &specs)
	} else {
		var one Spec
		err = json.Unmarshal(trimmed, &one)
		specs = []Spec{one}
	}
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", ErrInvalidSpec, err),
			"derived", "Parse", "decode specs")
	}

	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if seen[s.ID] {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: duplicate id %q", ErrInvalidSpec, s.ID),
				"derived", "Parse", "check ids")
		}
		seen[s.ID] = true
	}
	return specs, nil
}

// ParseYAML decodes a YAML document holding one spec or a list
func ParseYAML(data []byte) ([]Spec, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", ErrInvalidSpec, err),
			"derived", "ParseYAML", "decode yaml")
	}
	asJSON, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", ErrInvalidSpec, err),
			"derived", "ParseYAML", "convert yaml")
	}
	return Parse(asJSON)
}

// Load reads a .json, .yaml or .yml rule file
func Load(path string) ([]Spec, error) {
	data, err := config.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "derived", "Load", "read "+path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	}
	return Parse(data)
}

// Definition is a built derived rule
type Definition struct {
	spec   Spec
	filter criterion.Criterion
	action ActionFunc
}

var _ rtypes.Definition = (*Definition)(nil)

// Build compiles the selectors and creates the action
func (s Spec) Build() (*Definition, error) {
	selectors, err := criterion.ParseSelectors(s.Selectors)
	if err != nil {
		return nil, errors.Wrap(err, "derived", "Build", "parse selectors of "+s.ID)
	}
	filter, err := criterion.CompileSelectors(selectors)
	if err != nil {
		return nil, errors.Wrap(err, "derived", "Build", "compile selectors of "+s.ID)
	}

	factory, ok := LookupAction(s.Action.Type)
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: unknown action type %q", ErrInvalidSpec, s.Action.Type),
			"derived", "Build", "find action of "+s.ID)
	}
	if err := factory.Validate(s.Action); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", ErrInvalidSpec, err),
			"derived", "Build", "validate action of "+s.ID)
	}
	action, err := factory.Create(s.Action)
	if err != nil {
		return nil, errors.Wrap(err, "derived", "Build", "create action of "+s.ID)
	}
	return &Definition{spec: s, filter: filter, action: action}, nil
}

// Spec returns the source spec
func (d *Definition) Spec() Spec { return d.spec }

// InputFilter implements rule.Definition
func (d *Definition) InputFilter() criterion.Criterion { return d.filter }

// Evaluate runs the action once at least MinProviders are selected
func (d *Definition) Evaluate(ctx context.Context, providers []*snapshot.ProviderSnapshot, updater rtypes.ResourceUpdater) error {
	if len(providers) < d.spec.MinProviders {
		return nil
	}
	return d.action(ctx, providers, updater)
}
