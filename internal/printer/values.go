package printer

import (
	"fmt"
	"strconv"
	"strings"

	language "github.com/hanpama/subscribe/internal/language"
)

// coerceVariableValues keeps the variables declared by the operation, applies
// defaults and coerces built-in scalars. Undeclared variables are dropped.
func coerceVariableValues(op *language.OperationDefinition, values map[string]any) (map[string]any, error) {
	coerced := make(map[string]any)
	for _, varDef := range op.VariableDefinitions {
		name := varDef.Variable
		t := varDef.Type
		val, ok := values[name]
		if !ok {
			if varDef.DefaultValue != nil {
				val = astValueToGo(varDef.DefaultValue)
			} else if t.NonNull {
				return nil, fmt.Errorf("variable $%s of required type %s was not provided", name, t.String())
			} else {
				continue
			}
		}
		if val == nil && t.NonNull {
			return nil, fmt.Errorf("variable $%s of type %s cannot be null", name, t.String())
		}
		cv, err := coerceValue(val, t)
		if err != nil {
			return nil, fmt.Errorf("variable $%s of type %s cannot be coerced: %w", name, t.String(), err)
		}
		coerced[name] = cv
	}
	return coerced, nil
}

func astValueToGo(value *language.Value) any {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case language.IntValue:
		iv, _ := strconv.Atoi(value.Raw)
		return iv
	case language.FloatValue:
		fv, _ := strconv.ParseFloat(value.Raw, 64)
		return fv
	case language.StringValue, language.BlockValue, language.EnumValue:
		return value.Raw
	case language.BooleanValue:
		return value.Raw == "true"
	case language.ListValue:
		out := make([]any, len(value.Children))
		for i, c := range value.Children {
			out[i] = astValueToGo(c.Value)
		}
		return out
	case language.ObjectValue:
		m := make(map[string]any)
		for _, f := range value.Children {
			m[f.Name] = astValueToGo(f.Value)
		}
		return m
	default:
		return nil
	}
}

func coerceValue(value any, t *language.Type) (any, error) {
	if value == nil {
		if t.NonNull {
			return nil, fmt.Errorf("cannot provide null for non-null type")
		}
		return nil, nil
	}
	if t.Elem != nil {
		return coerceListValue(value, t.Elem)
	}
	switch t.NamedType {
	case "Int":
		return coerceToInt(value)
	case "Float":
		return coerceToFloat(value)
	case "String":
		return coerceToString(value)
	case "Boolean":
		return coerceToBoolean(value)
	case "ID":
		return coerceToID(value)
	default:
		// input objects, enums and custom scalars are passed through
		return value, nil
	}
}

func coerceListValue(value any, elem *language.Type) (any, error) {
	slice, ok := value.([]any)
	if !ok {
		item, err := coerceValue(value, elem)
		if err != nil {
			return nil, err
		}
		return []any{item}, nil
	}
	out := make([]any, len(slice))
	for i, item := range slice {
		ci, err := coerceValue(item, elem)
		if err != nil {
			return nil, err
		}
		out[i] = ci
	}
	return out, nil
}

func coerceToInt(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		if v == float64(int(v)) {
			return int(v), nil
		}
	case string:
		if iv, err := strconv.Atoi(v); err == nil {
			return iv, nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to int", value, value)
}

func coerceToFloat(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		if fv, err := strconv.ParseFloat(v, 64); err == nil {
			return fv, nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to float", value, value)
}

func coerceToString(value any) (any, error) {
	if v, ok := value.(string); ok {
		return v, nil
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to string", value, value)
}

func coerceToBoolean(value any) (any, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(v) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to boolean", value, value)
}

func coerceToID(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10), nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to ID", value, value)
}
