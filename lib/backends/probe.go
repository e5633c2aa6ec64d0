// Copyright 2025 Antfly, Inc.
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

package backends

import (
	"archive/zip"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	gojson "github.com/goccy/go-json"
)

// DetectionMeta is the metadata an ultralytics-style detection export
// embeds in its archive: the class-name table and the training image size.
type DetectionMeta struct {
	Names   map[int]string
	ImgSize int
}

// TorchProbe is the result of inspecting a .pt archive without loading it.
type TorchProbe struct {
	// TorchScript is true when the archive contains compiled code, i.e.
	// it is a full exported module rather than a bare parameter dump.
	TorchScript bool

	// WeightsOnly is true when the archive holds pickled parameters but
	// no compiled code (a state_dict save).
	WeightsOnly bool

	// Detection is non-nil when the archive carries detection-export
	// metadata.
	Detection *DetectionMeta
}

func errWeightsOnly(path string) error {
	return fmt.Errorf("%s contains parameters only, not a full exported model; re-export with scripting/tracing", path)
}

// ProbeTorchArchive inspects a TorchScript zip container. It returns an
// error when the file is not a zip archive at all.
//
// TorchScript exports carry their compiled code under a code/ member and
// constants under constants.pkl; a torch.save of a bare state_dict carries
// only data.pkl plus tensor storage. Ultralytics detection exports
// additionally embed a config.txt extra file holding a JSON metadata
// object with the class-name table.
func ProbeTorchArchive(path string) (*TorchProbe, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening torch archive: %w", err)
	}
	defer func() { _ = zr.Close() }()

	probe := &TorchProbe{}
	var hasDataPkl bool
	var metaFile *zip.File

	for _, f := range zr.File {
		name := f.Name
		// Member names are prefixed with the archive's internal root
		// (e.g. "model/code/...", "archive/data.pkl").
		if i := strings.IndexByte(name, '/'); i >= 0 {
			name = name[i+1:]
		}
		switch {
		case strings.HasPrefix(name, "code/"), name == "constants.pkl":
			probe.TorchScript = true
		case name == "data.pkl":
			hasDataPkl = true
		case name == "config.txt":
			metaFile = f
		}
	}

	probe.WeightsOnly = hasDataPkl && !probe.TorchScript

	if metaFile != nil && probe.TorchScript {
		meta, err := parseDetectionMeta(metaFile)
		if err == nil && len(meta.Names) > 0 {
			probe.Detection = meta
		}
	}
	return probe, nil
}

// exportMeta mirrors the JSON ultralytics writes into config.txt.
type exportMeta struct {
	Names   map[string]string `json:"names"`
	ImgSize []int             `json:"imgsz"`
}

func parseDetectionMeta(f *zip.File) (*DetectionMeta, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	raw, err := io.ReadAll(io.LimitReader(rc, 1<<20))
	if err != nil {
		return nil, err
	}

	var em exportMeta
	if err := gojson.Unmarshal(raw, &em); err != nil {
		return nil, fmt.Errorf("parsing export metadata: %w", err)
	}

	meta := &DetectionMeta{Names: make(map[int]string, len(em.Names))}
	for k, v := range em.Names {
		id, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		meta.Names[id] = v
	}
	if len(em.ImgSize) > 0 {
		meta.ImgSize = em.ImgSize[0]
	}
	return meta, nil
}

// ClassNames returns the class table sorted by id, for logging.
func (m *DetectionMeta) ClassNames() []string {
	ids := make([]int, 0, len(m.Names))
	for id := range m.Names {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, m.Names[id])
	}
	return names
}
