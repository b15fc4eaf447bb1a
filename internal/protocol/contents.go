package protocol

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"

	"github.com/koi-net/koinet/internal/rid"
)

// decodeContents maps generic bundle contents onto a typed profile
// struct, reusing the json field tags. RIDs arrive as plain strings and
// are parsed by a decode hook.
func decodeContents(contents map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     out,
		TagName:    "json",
		DecodeHook: ridDecodeHook,
	})
	if err != nil {
		return fmt.Errorf("build contents decoder: %w", err)
	}
	if err := decoder.Decode(contents); err != nil {
		return fmt.Errorf("decode contents: %w", err)
	}
	return nil
}

var ridType = reflect.TypeOf(rid.RID{})

func ridDecodeHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != ridType {
		return data, nil
	}
	return rid.Parse(data.(string))
}

// toMap converts a typed profile back into generic bundle contents by
// round-tripping through JSON, which keeps the wire encoding canonical.
func toMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("profile not marshalable: %v", err))
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		panic(fmt.Sprintf("profile not mappable: %v", err))
	}
	return m
}

func errInvalidProfile(field, value string) error {
	return fmt.Errorf("invalid profile: %s %q", field, value)
}
