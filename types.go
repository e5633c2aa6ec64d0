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

package mantis

import (
	"github.com/antflydb/mantis/lib/backends"
	"github.com/antflydb/mantis/lib/format"
)

// InputType selects which request field carries the payload and how it is
// normalized before inference.
type InputType string

const (
	InputNumeric   InputType = "numeric"
	InputImage     InputType = "image"
	InputCSV       InputType = "csv"
	InputJSON      InputType = "json"
	InputText      InputType = "text"
	InputMultiText InputType = "multi_text"
)

// OutputType selects how the raw inference result is shaped for the caller.
type OutputType string

const (
	OutputClassification OutputType = "classification"
	OutputRegression     OutputType = "regression"
	OutputText           OutputType = "text"
	OutputImage          OutputType = "image"
	OutputJSON           OutputType = "json"
)

// PredictRequest is the prediction request body. Payload fields are
// optional except the one the declared input_type requires.
type PredictRequest struct {
	ModelPath string `json:"model_path"`
	ModelKey  string `json:"model_key"`

	InputType  InputType  `json:"input_type,omitempty"`  // default "numeric"
	OutputType OutputType `json:"output_type,omitempty"` // default "classification"

	Inputs      any      `json:"inputs,omitempty"`       // numeric
	ImageBase64 string   `json:"image_base64,omitempty"` // image
	Text        string   `json:"text,omitempty"`         // text
	Texts       []string `json:"texts,omitempty"`        // multi_text
	CSVData     string   `json:"csv_data,omitempty"`     // csv
	JSONData    any      `json:"json_data,omitempty"`    // json
}

// PredictResponse is the prediction response body. The formatter fields are
// populated according to output_type; Detections and Count only for
// detection models, which bypass the formatter.
type PredictResponse struct {
	format.Output

	Detections []backends.Detection `json:"detections,omitempty"`
	Count      *int                 `json:"count,omitempty"`

	// Framework tags which backend served the request.
	Framework string `json:"framework"`
	ModelKey  string `json:"model_key"`
}
