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

//go:build !torch

package backends

import "fmt"

func init() {
	Register(&torchStub{kind: KindTorch, name: "LibTorch"})
	Register(&torchStub{kind: KindDetection, name: "YOLO Detection"})
}

// torchStub stands in for the libtorch-backed engines in builds without
// -tags=torch.
type torchStub struct {
	kind BackendKind
	name string
}

func (b *torchStub) Kind() BackendKind { return b.kind }
func (b *torchStub) Name() string      { return b.name }
func (b *torchStub) Version() string   { return "unknown" }
func (b *torchStub) Available() bool   { return false }

func (b *torchStub) Load(path string) (Model, error) {
	return nil, fmt.Errorf("%w: %s support not compiled in; rebuild with -tags=torch", ErrUnsupportedBackend, b.kind)
}
