package config

import "os"

// ExpandEnv interpolates ${VAR} / $VAR references in raw YAML before
// parsing, so catalogs can reference secrets (provider keys, DSNs)
// without embedding them. A missing variable expands to the empty
// string; the validators catch required fields left empty by that.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
