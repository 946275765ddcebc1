package cli

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// DecodeResult contains metadata from the decoding process
type DecodeResult struct {
	// UnusedKeys contains keys that were in input but not matched to struct fields
	UnusedKeys []string
}

// decodeWithMetadata decodes input into output while tracking key metadata.
// This enables detection of unknown keys (typos) in config files.
func decodeWithMetadata(input map[string]interface{}, output interface{}) (*DecodeResult, error) {
	var metadata mapstructure.Metadata

	config := &mapstructure.DecoderConfig{
		Result:           output,
		Metadata:         &metadata,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		MatchName:        caseInsensitiveMatch,
	}

	decoder, err := mapstructure.NewDecoder(config)
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}

	if err := decoder.Decode(input); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	return &DecodeResult{UnusedKeys: metadata.Unused}, nil
}

// caseInsensitiveMatch matches map keys to struct fields case-insensitively
func caseInsensitiveMatch(mapKey, fieldName string) bool {
	return strings.EqualFold(normalizeKey(mapKey), normalizeKey(fieldName))
}

// normalizeKey normalizes a configuration key for comparison
// Handles both kebab-case (config files) and underscores (mapstructure tags)
func normalizeKey(key string) string {
	k := strings.ToLower(key)
	k = strings.ReplaceAll(k, "-", "")
	k = strings.ReplaceAll(k, "_", "")
	return k
}
