package config

import "fmt"

// AttributeMap is a generic bag of configuration attributes, the same
// loosely-typed shape component configuration is expressed in before being
// decoded into a concrete struct.
type AttributeMap map[string]interface{}

// Bool returns the boolean at key, or def if key is absent. It panics if
// the value present is not a bool.
func (am AttributeMap) Bool(key string, def bool) bool {
	v, ok := am[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		panic(fmt.Sprintf("config attribute %q: wanted a bool, got %T", key, v))
	}
	return b
}

// Float64 returns the float64 at key, or def if key is absent. It panics if
// the value present is not numeric.
func (am AttributeMap) Float64(key string, def float64) float64 {
	v, ok := am[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		panic(fmt.Sprintf("config attribute %q: wanted a float64, got %T", key, v))
	}
}

// Int returns the int at key, or def if key is absent. A float64 value is
// truncated to an int; it panics if the value is neither an int nor a
// float64.
func (am AttributeMap) Int(key string, def int) int {
	v, ok := am[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		panic(fmt.Sprintf("config attribute %q: wanted an int, got %T", key, v))
	}
}

// String returns the string at key, or def if key is absent. It panics if
// the value present is not a string.
func (am AttributeMap) String(key string, def string) string {
	v, ok := am[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		panic(fmt.Sprintf("config attribute %q: wanted a string, got %T", key, v))
	}
	return s
}

// IntSlice returns the []int at key, panicking if absent or not all ints.
func (am AttributeMap) IntSlice(key string) []int {
	v, ok := am[key]
	if !ok {
		panic(fmt.Sprintf("config attribute %q: missing, wanted a []int", key))
	}
	raw, ok := v.([]interface{})
	if !ok {
		panic(fmt.Sprintf("config attribute %q: wanted a []int, got %T", key, v))
	}
	out := make([]int, len(raw))
	for i, elem := range raw {
		n, ok := elem.(int)
		if !ok {
			if f, ok := elem.(float64); ok {
				out[i] = int(f)
				continue
			}
			panic(fmt.Sprintf("values in (%s) need to be ints", key))
		}
		out[i] = n
	}
	return out
}

// StringSlice returns the []string at key, panicking if absent or not all
// strings.
func (am AttributeMap) StringSlice(key string) []string {
	v, ok := am[key]
	if !ok {
		panic(fmt.Sprintf("config attribute %q: missing, wanted a []string", key))
	}
	raw, ok := v.([]interface{})
	if !ok {
		panic(fmt.Sprintf("config attribute %q: wanted a []string, got %T", key, v))
	}
	out := make([]string, len(raw))
	for i, elem := range raw {
		s, ok := elem.(string)
		if !ok {
			panic(fmt.Sprintf("values in (%s) need to be strings", key))
		}
		out[i] = s
	}
	return out
}
