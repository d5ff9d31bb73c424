package contract

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// FieldType is the JSON type a schema field must have.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeNumber FieldType = "number"
	TypeBool   FieldType = "bool"
	TypeArray  FieldType = "array"
	TypeObject FieldType = "object"
	TypeAny    FieldType = "any"
)

func (t FieldType) valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeBool, TypeArray, TypeObject, TypeAny:
		return true
	default:
		return false
	}
}

// Field is one structural rule. Path uses gjson dot syntax relative to the
// enclosing object.
type Field struct {
	Path     string    `yaml:"path"`
	Type     FieldType `yaml:"type"`
	Required bool      `yaml:"required"`
	// NonEmpty rejects blank strings.
	NonEmpty bool `yaml:"non_empty"`
	// Enum restricts string values.
	Enum []string `yaml:"enum"`
	// MinItems applies to arrays.
	MinItems int `yaml:"min_items"`
	// ItemType constrains every element of a scalar array.
	ItemType FieldType `yaml:"item_type"`
	// Items are rules applied to every object element of an array.
	Items []Field `yaml:"items"`
}

// Schema is the structural contract for one artifact type.
type Schema struct {
	Fields []Field `yaml:"fields"`
}

func (s Schema) check() error {
	return checkFields(s.Fields)
}

func checkFields(fields []Field) error {
	for i, f := range fields {
		if strings.TrimSpace(f.Path) == "" {
			return fmt.Errorf("fields[%d]: path is required", i)
		}
		if !f.Type.valid() {
			return fmt.Errorf("field %q: unknown type %q", f.Path, f.Type)
		}
		if f.ItemType != "" && !f.ItemType.valid() {
			return fmt.Errorf("field %q: unknown item type %q", f.Path, f.ItemType)
		}
		if len(f.Items) > 0 || f.ItemType != "" || f.MinItems > 0 {
			if f.Type != TypeArray {
				return fmt.Errorf("field %q: item rules require type array", f.Path)
			}
		}
		if err := checkFields(f.Items); err != nil {
			return fmt.Errorf("field %q: %w", f.Path, err)
		}
	}
	return nil
}

// Validate returns every violation found in data. An empty result means the
// artifact conforms.
func (s Schema) Validate(data []byte) []Violation {
	if v := validJSON(data); len(v) > 0 {
		return v
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return []Violation{{Path: "$", Message: "must be a JSON object"}}
	}
	return validateFields(root, "", s.Fields)
}

func validJSON(data []byte) []Violation {
	if len(data) == 0 || !gjson.ValidBytes(data) {
		return []Violation{{Path: "$", Message: "must be valid JSON"}}
	}
	return nil
}

func validateFields(node gjson.Result, prefix string, fields []Field) []Violation {
	var out []Violation
	for _, f := range fields {
		path := joinPath(prefix, f.Path)
		val := node.Get(f.Path)
		if !val.Exists() || val.Type == gjson.Null {
			if f.Required {
				out = append(out, Violation{Path: path, Message: "is required"})
			}
			continue
		}
		if !matchesType(val, f.Type) {
			out = append(out, Violation{Path: path, Message: fmt.Sprintf("must be of type %s", f.Type)})
			continue
		}
		if f.NonEmpty && val.Type == gjson.String && strings.TrimSpace(val.String()) == "" {
			out = append(out, Violation{Path: path, Message: "must not be empty"})
		}
		if len(f.Enum) > 0 && !contains(f.Enum, val.String()) {
			out = append(out, Violation{Path: path, Message: "must be one of " + strings.Join(f.Enum, ", ")})
		}
		if f.Type != TypeArray {
			continue
		}

		items := val.Array()
		if len(items) < f.MinItems {
			out = append(out, Violation{Path: path, Message: fmt.Sprintf("must have at least %d items", f.MinItems)})
		}
		for i, item := range items {
			itemPath := fmt.Sprintf("%s.%d", path, i)
			if f.ItemType != "" && !matchesType(item, f.ItemType) {
				out = append(out, Violation{Path: itemPath, Message: fmt.Sprintf("must be of type %s", f.ItemType)})
				continue
			}
			if len(f.Items) == 0 {
				continue
			}
			if !item.IsObject() {
				out = append(out, Violation{Path: itemPath, Message: "must be of type object"})
				continue
			}
			out = append(out, validateFields(item, itemPath, f.Items)...)
		}
	}
	return out
}

func matchesType(val gjson.Result, t FieldType) bool {
	switch t {
	case TypeString:
		return val.Type == gjson.String
	case TypeNumber:
		return val.Type == gjson.Number
	case TypeBool:
		return val.Type == gjson.True || val.Type == gjson.False
	case TypeArray:
		return val.IsArray()
	case TypeObject:
		return val.IsObject()
	default:
		return true
	}
}

func joinPath(prefix, path string) string {
	if prefix == "" {
		return path
	}
	return prefix + "." + path
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
