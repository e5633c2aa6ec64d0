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

//go:build !tf

package backends

import "fmt"

func init() {
	Register(&tfStub{})
}

// tfStub stands in for the TensorFlow engine in builds without -tags=tf,
// so capability reporting and kind resolution still see the backend.
type tfStub struct{}

func (b *tfStub) Kind() BackendKind { return KindTensorFlow }
func (b *tfStub) Name() string      { return "TensorFlow" }
func (b *tfStub) Version() string   { return "unknown" }
func (b *tfStub) Available() bool   { return false }

func (b *tfStub) Load(path string) (Model, error) {
	return nil, fmt.Errorf("%w: tensorflow support not compiled in; rebuild with -tags=tf", ErrUnsupportedBackend)
}
