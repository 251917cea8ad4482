package criterion

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/c360/semtwin/errors"
)

//go:embed selector.schema.json
var selectorSchemaJSON []byte

var selectorSchema = mustSchema(selectorSchemaJSON)

func mustSchema(doc []byte) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		panic(fmt.Sprintf("criterion: selector schema: %v", err))
	}
	return s
}

// Selection is a name test in a selector document. It decodes from a plain
// string (exact match) or an object.
type Selection struct {
	Value  string `json:"value" yaml:"value"`
	Type   string `json:"type,omitempty" yaml:"type,omitempty"`
	Negate bool   `json:"negate,omitempty" yaml:"negate,omitempty"`
}

// UnmarshalJSON accepts a string shorthand
func (s *Selection) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		*s = Selection{Value: name}
		return nil
	}
	type plain Selection
	return json.Unmarshal(b, (*plain)(s))
}

// Operands is a list of comparison operands. It decodes from a scalar or a
// list of scalars.
type Operands []string

// UnmarshalJSON accepts a scalar or a list
func (o *Operands) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	list, ok := raw.([]any)
	if !ok {
		list = []any{raw}
	}
	out := make([]string, len(list))
	for i, v := range list {
		switch t := v.(type) {
		case nil:
			out[i] = "null"
		case string:
			out[i] = t
		case json.Number:
			out[i] = t.String()
		case bool:
			out[i] = strconv.FormatBool(t)
		default:
			return fmt.Errorf("operand %d: unsupported type %T", i, v)
		}
	}
	*o = out
	return nil
}

// ValueSelection is a value comparison in a selector document
type ValueSelection struct {
	Operation string   `json:"operation" yaml:"operation"`
	Value     Operands `json:"value,omitempty" yaml:"value,omitempty"`
	CheckType string   `json:"check_type,omitempty" yaml:"check_type,omitempty"`
	Negate    bool     `json:"negate,omitempty" yaml:"negate,omitempty"`
}

// LocationSelection is a geographic test in a selector document
type LocationSelection struct {
	Type   string  `json:"type" yaml:"type"`
	Lat    float64 `json:"lat,omitempty" yaml:"lat,omitempty"`
	Lon    float64 `json:"lon,omitempty" yaml:"lon,omitempty"`
	Radius float64 `json:"radius,omitempty" yaml:"radius,omitempty"`
	MinLat float64 `json:"min_lat,omitempty" yaml:"min_lat,omitempty"`
	MinLon float64 `json:"min_lon,omitempty" yaml:"min_lon,omitempty"`
	MaxLat float64 `json:"max_lat,omitempty" yaml:"max_lat,omitempty"`
	MaxLon float64 `json:"max_lon,omitempty" yaml:"max_lon,omitempty"`
	Negate bool    `json:"negate,omitempty" yaml:"negate,omitempty"`
}

// ResourceSelector is the compact selector document. Every field present is
// a constraint and all of them must hold.
type ResourceSelector struct {
	Model    *Selection          `json:"model,omitempty" yaml:"model,omitempty"`
	Provider *Selection          `json:"provider,omitempty" yaml:"provider,omitempty"`
	Service  *Selection          `json:"service,omitempty" yaml:"service,omitempty"`
	Resource *Selection          `json:"resource,omitempty" yaml:"resource,omitempty"`
	Value    []ValueSelection    `json:"value,omitempty" yaml:"value,omitempty"`
	Location []LocationSelection `json:"location,omitempty" yaml:"location,omitempty"`
}

// ParseSelectors decodes a JSON document holding one selector or a list
func ParseSelectors(data []byte) ([]ResourceSelector, error) {
	result, err := selectorSchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", ErrInvalidSelector, err),
			"criterion", "ParseSelectors", "decode document")
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.Field()+": "+desc.Description())
		}
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", ErrInvalidSelector, strings.Join(msgs, "; ")),
			"criterion", "ParseSelectors", "validate document")
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []ResourceSelector
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", ErrInvalidSelector, err),
				"criterion", "ParseSelectors", "decode list")
		}
		return list, nil
	}
	var one ResourceSelector
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", ErrInvalidSelector, err),
			"criterion", "ParseSelectors", "decode selector")
	}
	return []ResourceSelector{one}, nil
}

// ParseSelectorsYAML decodes a YAML document holding one selector or a list
func ParseSelectorsYAML(data []byte) ([]ResourceSelector, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", ErrInvalidSelector, err),
			"criterion", "ParseSelectorsYAML", "decode yaml")
	}
	asJSON, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", ErrInvalidSelector, err),
			"criterion", "ParseSelectorsYAML", "convert yaml")
	}
	return ParseSelectors(asJSON)
}

// Compile turns the selector into a criterion. Value tests apply together
// to the resources at the selected path. An empty selector matches every
// provider.
func (rs ResourceSelector) Compile() (Criterion, error) {
	sel := &selection{}
	names := []struct {
		sel   *Selection
		build func(Match) Criterion
	}{
		{rs.Model, ModelName},
		{rs.Provider, ProviderName},
	}
	for _, n := range names {
		if n.sel == nil {
			continue
		}
		m, err := n.sel.compile()
		if err != nil {
			return nil, err
		}
		sel.names = append(sel.names, n.build(m))
	}

	if rs.Service != nil {
		m, err := rs.Service.compile()
		if err != nil {
			return nil, err
		}
		sel.service = &m
	}
	if rs.Resource != nil {
		m, err := rs.Resource.compile()
		if err != nil {
			return nil, err
		}
		sel.resource = &m
	}
	for i, v := range rs.Value {
		vt, err := v.compile()
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		sel.tests = append(sel.tests, vt)
	}

	for i, l := range rs.Location {
		c, err := l.compile()
		if err != nil {
			return nil, fmt.Errorf("location %d: %w", i, err)
		}
		sel.location = append(sel.location, c)
	}

	if len(sel.names) == 0 && sel.service == nil && sel.resource == nil &&
		len(sel.tests) == 0 && len(sel.location) == 0 {
		return All(), nil
	}
	return sel, nil
}

// CompileSelectors compiles every selector and returns their union
func CompileSelectors(selectors []ResourceSelector) (Criterion, error) {
	compiled := make([]Criterion, 0, len(selectors))
	for i, rs := range selectors {
		c, err := rs.Compile()
		if err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("selector %d: %w", i, err),
				"criterion", "CompileSelectors", "compile selector")
		}
		compiled = append(compiled, c)
	}
	return Any(compiled...), nil
}

func (s *Selection) compile() (Match, error) {
	t, err := ParseMatchType(s.Type)
	if err != nil {
		return Match{}, err
	}
	m, err := NewMatch(t, s.Value)
	if err != nil {
		return Match{}, err
	}
	m.Negate = s.Negate
	return m, nil
}

func (v ValueSelection) compile() (ValueTest, error) {
	op, err := ParseOperator(v.Operation)
	if err != nil {
		return ValueTest{}, err
	}
	check, err := ParseCheckType(v.CheckType)
	if err != nil {
		return ValueTest{}, err
	}
	if op != OpIsSet && len(v.Value) == 0 {
		return ValueTest{}, fmt.Errorf("%w: operation %s needs a value", ErrInvalidSelector, op)
	}
	vt, err := NewValueTest(op, check, v.Value...)
	if err != nil {
		return ValueTest{}, err
	}
	vt.Negate = v.Negate
	return vt, nil
}

func (l LocationSelection) compile() (Criterion, error) {
	var c Criterion
	switch strings.ToLower(l.Type) {
	case "near":
		if l.Radius <= 0 {
			return nil, fmt.Errorf("%w: near needs a positive radius", ErrInvalidSelector)
		}
		c = Near(l.Lat, l.Lon, l.Radius)
	case "box":
		if l.MinLat > l.MaxLat || l.MinLon > l.MaxLon {
			return nil, fmt.Errorf("%w: box minimum exceeds maximum", ErrInvalidSelector)
		}
		c = WithinBox(l.MinLat, l.MinLon, l.MaxLat, l.MaxLon)
	default:
		return nil, fmt.Errorf("%w: location type %q", ErrInvalidSelector, l.Type)
	}
	if l.Negate {
		c = c.Negate()
	}
	return c, nil
}
