// Copyright (c) 2021 Palantir Technologies. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

const configFlag = "config"

// applyConfigFile sets the flags of cmd from the YAML mapping in the file at path. Keys are flag
// names; list values set repeatable flags once per element. Flags already set on the command
// line keep their values.
func applyConfigFile(cmd *cobra.Command, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "failed to read config file")
	}
	var values map[string]interface{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return errors.Wrapf(err, "failed to parse config file %s", path)
	}

	keys := maps.Keys(values)
	slices.Sort(keys)
	for _, key := range keys {
		flag := cmd.Flags().Lookup(key)
		if flag == nil || key == configFlag {
			return errors.Errorf("unsupported key %q in config file %s", key, path)
		}
		if flag.Changed || values[key] == nil {
			continue
		}
		elems, isList := values[key].([]interface{})
		if !isList {
			elems = []interface{}{values[key]}
		}
		for _, elem := range elems {
			if err := cmd.Flags().Set(key, fmt.Sprint(elem)); err != nil {
				return errors.Wrapf(err, "invalid value for %s in config file %s", key, path)
			}
		}
	}
	return nil
}
