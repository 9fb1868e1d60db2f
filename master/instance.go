// Copyright 2024 The Kudu-Go Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package master

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/kudu-go/master/status"
)

func instanceUUIDPath(dir string) string {
	return filepath.Join(dir, "instance.uuid")
}

// loadOrCreateInstanceUUID mirrors FsManager::uuid(): a master's
// permanent_uuid is minted once against the data directory it first runs
// against and never changes afterward, regardless of how many times that
// directory is subsequently Loaded.
func loadOrCreateInstanceUUID(dir string) (string, error) {
	path := instanceUUIDPath(dir)
	data, err := os.ReadFile(path)
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	if !os.IsNotExist(err) {
		return "", status.Wrap(err, status.IOError, "read instance uuid")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", status.Wrap(err, status.IOError, "create fs root "+dir)
	}

	id := uuid.NewString()
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return "", status.Wrap(err, status.IOError, "create temp instance uuid file")
	}
	if _, err := f.WriteString(id); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", status.Wrap(err, status.IOError, "write temp instance uuid file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", status.Wrap(err, status.IOError, "fsync temp instance uuid file")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", status.Wrap(err, status.IOError, "close temp instance uuid file")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", status.Wrap(err, status.IOError, "install instance uuid file")
	}
	return id, nil
}
