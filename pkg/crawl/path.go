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

package crawl

import (
	"strings"
)

// NestedPath is the path taken to reach a file being walked. Each element is one layer, which
// could be a file on disk or an entry of the archive in the previous layer. For example,
// ["/path/to/app.war", "WEB-INF/lib/dep.jar", "com/example/A.class"] is a class nested in two
// layers of archive.
type NestedPath []string

// Joined separates the layers of the path with '!'.
func (n NestedPath) Joined() string {
	return strings.Join(n, "!")
}

// File is the outermost layer, the file on disk.
func (n NestedPath) File() string {
	if len(n) == 0 {
		return ""
	}
	return n[0]
}

func (n NestedPath) with(next string) NestedPath {
	out := make(NestedPath, len(n), len(n)+1)
	copy(out, n)
	return append(out, next)
}

func filenameFromPathInsideArchive(path string) string {
	if i := strings.LastIndex(path, "/"); i > -1 {
		return path[i+1:]
	}
	return path
}
