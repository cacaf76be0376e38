package cache

import (
	"encoding/json"
	"fmt"
	"strings"
)

// GenerateKey creates a cache key with prefix and ID.
func GenerateKey(prefix string, id string) string {
	return fmt.Sprintf("%s:%s", prefix, id)
}

// BuildPattern creates a Redis pattern for key matching.
func BuildPattern(prefix string) string {
	return fmt.Sprintf("%s*", prefix)
}

// matchPattern supports the subset of glob patterns BuildPattern produces:
// an exact key or a prefix followed by a single trailing '*'.
func matchPattern(pattern, key string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(key, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == key
}

// assign copies a cached value into dest.
func assign(value interface{}, dest interface{}) error {
	switch d := dest.(type) {
	case *string:
		switch v := value.(type) {
		case string:
			*d = v
			return nil
		case []byte:
			*d = string(v)
			return nil
		}
	case *[]byte:
		switch v := value.(type) {
		case []byte:
			*d = append([]byte(nil), v...)
			return nil
		case string:
			*d = []byte(v)
			return nil
		}
	case *interface{}:
		*d = value
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshal: %w", err)
	}
	return json.Unmarshal(data, dest)
}
