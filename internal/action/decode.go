package action

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"

	"github.com/mitchellh/mapstructure"

	"github.com/Zereker/vectorstore/internal/domain"
)

// Decode converts loosely typed input, such as decoded JSON or MCP tool arguments, into out.
// Fields are matched by their json tag and numbers are converted weakly.
func Decode(input any, out any) error {
	config := &mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(float32SliceHook, stringSliceHook),
	}

	decoder, err := mapstructure.NewDecoder(config)
	if err != nil {
		return fmt.Errorf("create decoder: %w", err)
	}

	return decoder.Decode(input)
}

// DecodeMutation parses a mutation message and validates it.
func DecodeMutation(message []byte) (*domain.Mutation, error) {
	var raw map[string]any
	if err := json.Unmarshal(message, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidMutation, err)
	}

	var m domain.Mutation
	if err := Decode(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidMutation, err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// float32SliceHook converts []any of numbers, or numeric strings, into []float32.
func float32SliceHook(_, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf([]float32{}) {
		return data, nil
	}

	if f32Slice, ok := data.([]float32); ok {
		return f32Slice, nil
	}

	slice, ok := data.([]any)
	if !ok {
		return data, nil
	}

	result := make([]float32, len(slice))
	for i, v := range slice {
		switch f := v.(type) {
		case float64:
			result[i] = float32(f)
		case float32:
			result[i] = f
		case int:
			result[i] = float32(f)
		case json.Number:
			n, err := f.Float64()
			if err != nil {
				return nil, fmt.Errorf("vector element %d: %w", i, err)
			}
			result[i] = float32(n)
		case string:
			n, err := strconv.ParseFloat(f, 32)
			if err != nil {
				return nil, fmt.Errorf("vector element %d: %w", i, err)
			}
			result[i] = float32(n)
		default:
			return nil, fmt.Errorf("vector element %d: unexpected %T", i, v)
		}
	}

	return result, nil
}

// stringSliceHook converts []any into []string, dropping non-string elements.
func stringSliceHook(_, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf([]string{}) {
		return data, nil
	}

	if strSlice, ok := data.([]string); ok {
		return strSlice, nil
	}

	slice, ok := data.([]any)
	if !ok {
		return data, nil
	}

	result := make([]string, 0, len(slice))
	for _, v := range slice {
		if s, ok := v.(string); ok {
			result = append(result, s)
		}
	}

	return result, nil
}
