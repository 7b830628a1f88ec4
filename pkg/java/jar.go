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

package java

import (
	"archive/zip"
	"strings"

	"github.com/pkg/errors"
)

// ClassEntryName returns the archive entry that holds a class given either its binary name
// (java.lang.String) or its internal name (java/lang/String).
func ClassEntryName(className string) string {
	return strings.ReplaceAll(strings.TrimSuffix(className, ".class"), ".", "/") + ".class"
}

// ReadClass reads the bytes of a class from a jar.
func ReadClass(jarFile, className string) ([]byte, error) {
	r, err := zip.OpenReader(jarFile)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = r.Close()
	}()

	entry := ClassEntryName(className)
	c, err := r.Open(entry)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s in %s", entry, jarFile)
	}
	defer func() {
		_ = c.Close()
	}()
	return readClass(c)
}

// HashClass computes the ClassHash of a class within a jar.
func HashClass(jarFile, className string) (ClassHash, error) {
	data, err := ReadClass(jarFile, className)
	if err != nil {
		return ClassHash{}, err
	}
	return HashClassBytes(data)
}
