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

package archive

import (
	"strings"
)

// Format is the container format of an archive.
type Format int

const (
	Unsupported Format = iota
	Zip
	Tar
	TarGzip
	TarBzip2
)

func (f Format) String() string {
	switch f {
	case Zip:
		return "zip"
	case Tar:
		return "tar"
	case TarGzip:
		return "tar.gz"
	case TarBzip2:
		return "tar.bz2"
	}
	return "unsupported"
}

var formatsBySuffix = map[string]Format{
	"aar":     Zip,
	"ear":     Zip,
	"jar":     Zip,
	"par":     Zip,
	"war":     Zip,
	"zip":     Zip,
	"tar":     Tar,
	"tar.gz":  TarGzip,
	"tgz":     TarGzip,
	"tar.bz2": TarBzip2,
	"tbz2":    TarBzip2,
}

// FormatOf returns the archive format named by the suffix of filename. Only the last two
// dot-separated suffixes are considered, so "a.b.tar.gz" is TarGzip but "a.tar.gz.b" is not an
// archive. Matching is case sensitive.
func FormatOf(filename string) (Format, bool) {
	last := strings.LastIndexByte(filename, '.')
	if last < 0 {
		return Unsupported, false
	}
	if prev := strings.LastIndexByte(filename[:last], '.'); prev >= 0 {
		if f, ok := formatsBySuffix[filename[prev+1:]]; ok {
			return f, true
		}
	}
	f, ok := formatsBySuffix[filename[last+1:]]
	return f, ok
}
