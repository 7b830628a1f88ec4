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
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/palantir/jvm-verifier/pkg/buffer"
	"github.com/palantir/jvm-verifier/pkg/classfile"
	"github.com/palantir/jvm-verifier/pkg/verifier"
	"github.com/pkg/errors"
)

// DefaultCacheSize is the number of class descriptions a Repository keeps after reading them
// from its class path.
const DefaultCacheSize = 4096

// MaxClassSize bounds the bytes read for a single class file.
const MaxClassSize = 64 << 20

// Repository resolves classes from, in order, classes added to it directly, its class path
// entries and its parent. A Repository is safe for concurrent use.
type Repository struct {
	parent verifier.Resolver
	cache  *lru.Cache

	mu      sync.RWMutex
	added   map[string]*verifier.ClassInfo
	entries []classPathEntry
}

// NewRepository creates a Repository that falls back to parent, which may be nil, for classes it
// cannot find itself. Use Bootstrap as the parent of the outermost repository.
func NewRepository(parent verifier.Resolver) *Repository {
	cache, err := lru.New(DefaultCacheSize)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	return &Repository{
		parent: parent,
		cache:  cache,
		added:  make(map[string]*verifier.ClassInfo),
	}
}

// Add makes cf resolvable by its own name, taking precedence over the class path.
func (r *Repository) Add(cf *classfile.ClassFile) error {
	info, err := verifier.ClassInfoOf(cf)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added[info.Name] = info
	return nil
}

// AddClassPath appends the entries of a class path in the platform's list format. Each entry is
// a directory or a jar.
func (r *Repository) AddClassPath(classPath string) error {
	for _, entry := range filepath.SplitList(classPath) {
		if entry == "" {
			continue
		}
		if err := r.AddEntry(entry); err != nil {
			return err
		}
	}
	return nil
}

// AddEntry appends a directory or a jar to the class path.
func (r *Repository) AddEntry(path string) error {
	stat, err := os.Stat(path)
	if err != nil {
		return errors.Wrapf(err, "class path entry %s", path)
	}
	var entry classPathEntry
	if stat.IsDir() {
		entry = dirEntry(path)
	} else {
		zr, err := zip.OpenReader(path)
		if err != nil {
			return errors.Wrapf(err, "class path entry %s", path)
		}
		entry = newJarEntry(path, &zr.Reader, zr.Close)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

// AddJar appends an already opened jar to the class path under the given name.
func (r *Repository) AddJar(name string, zr *zip.Reader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, newJarEntry(name, zr, nil))
}

// ClassPath returns the names of the class path entries in lookup order.
func (r *Repository) ClassPath() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.String()
	}
	return out
}

// Resolve implements verifier.Resolver.
func (r *Repository) Resolve(name string) (*verifier.ClassInfo, error) {
	r.mu.RLock()
	info, ok := r.added[name]
	entries := r.entries
	r.mu.RUnlock()
	if ok {
		return info, nil
	}
	if v, ok := r.cache.Get(name); ok {
		return v.(*verifier.ClassInfo), nil
	}
	for _, e := range entries {
		data, found, err := e.find(name)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s from %s", name, e)
		}
		if !found {
			continue
		}
		cf, err := classfile.Parse(data)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %s from %s", name, e)
		}
		info, err := verifier.ClassInfoOf(cf)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %s from %s", name, e)
		}
		if info.Name != name {
			return nil, errors.Errorf("%s in %s declares class %s", name, e, info.Name)
		}
		r.cache.Add(name, info)
		return info, nil
	}
	if r.parent != nil {
		return r.parent.Resolve(name)
	}
	return nil, &verifier.ClassNotFoundError{Name: name}
}

// Close releases the jars the repository opened.
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, e := range r.entries {
		if err := e.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.entries = nil
	r.cache.Purge()
	return firstErr
}

type classPathEntry interface {
	find(name string) ([]byte, bool, error)
	String() string
	Close() error
}

type dirEntry string

func (d dirEntry) find(name string) ([]byte, bool, error) {
	f, err := os.Open(filepath.Join(string(d), filepath.FromSlash(name)+".class"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer func() {
		_ = f.Close()
	}()
	data, err := readClass(f)
	return data, err == nil, err
}

func (d dirEntry) String() string {
	return string(d)
}

func (dirEntry) Close() error {
	return nil
}

type jarEntry struct {
	name  string
	close func() error

	files map[string]*zip.File
}

func newJarEntry(name string, zr *zip.Reader, close func() error) *jarEntry {
	files := make(map[string]*zip.File)
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, ".class") && !f.FileInfo().IsDir() {
			files[strings.TrimSuffix(f.Name, ".class")] = f
		}
	}
	return &jarEntry{name: name, close: close, files: files}
}

func (j *jarEntry) find(name string) ([]byte, bool, error) {
	f, ok := j.files[name]
	if !ok {
		return nil, false, nil
	}
	rc, err := f.Open()
	if err != nil {
		return nil, false, err
	}
	defer func() {
		_ = rc.Close()
	}()
	data, err := readClass(rc)
	return data, err == nil, err
}

func (j *jarEntry) String() string {
	return j.name
}

func (j *jarEntry) Close() error {
	if j.close == nil {
		return nil
	}
	return j.close()
}

func readClass(r io.Reader) ([]byte, error) {
	return buffer.ReadAllLimited(r, MaxClassSize)
}
