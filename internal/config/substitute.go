// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"os"
	"reflect"
	"regexp"
)

// envVarPattern matches ${NAME} references, mirroring
// original_source/src/config.py's ConfigLoader._substitute_env_vars.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars walks every string field of v (a pointer to a struct,
// recursively through nested structs and slices) and replaces ${NAME}
// references with the matching environment variable. A reference to an
// unset variable is left untouched, exactly like the Python reference —
// this lets operators leave a placeholder in version-controlled config
// without the loader erroring or silently blanking it.
func substituteEnvVars(v reflect.Value) {
	switch v.Kind() {
	case reflect.Ptr:
		if !v.IsNil() {
			substituteEnvVars(v.Elem())
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			field := v.Field(i)
			if !field.CanSet() {
				continue
			}
			substituteEnvVars(field)
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			substituteEnvVars(v.Index(i))
		}
	case reflect.String:
		v.SetString(substituteString(v.String()))
	}
}

func substituteString(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}
