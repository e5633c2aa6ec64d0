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
	"context"
	"errors"

	"github.com/antflydb/mantis/lib/backends"
	"github.com/antflydb/mantis/lib/format"
	"github.com/antflydb/mantis/lib/normalize"
	"go.uber.org/zap"
)

// Predictor orchestrates one prediction: validate the request, get the
// model from the cache, normalize the input, run inference, format the
// output. Validation runs before the model is touched so a bad request
// never costs a load.
type Predictor struct {
	logger *zap.Logger
	cache  *ModelCache
}

// NewPredictor creates a predictor on top of a model cache.
func NewPredictor(cache *ModelCache, logger *zap.Logger) *Predictor {
	return &Predictor{logger: logger, cache: cache}
}

// Predict runs a full prediction request.
func (p *Predictor) Predict(ctx context.Context, req *PredictRequest) (*PredictResponse, error) {
	applyDefaults(req)
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	model, err := p.cache.GetOrLoad(req.ModelKey, req.ModelPath)
	if err != nil {
		return nil, err
	}

	input, err := buildInput(req, model)
	if err != nil {
		return nil, err
	}

	result, err := model.Infer(ctx, input)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, backends.InferenceError(model.Kind(), err)
	}

	return buildResponse(req, model, result)
}

func applyDefaults(req *PredictRequest) {
	if req.InputType == "" {
		req.InputType = InputNumeric
	}
	if req.OutputType == "" {
		req.OutputType = OutputClassification
	}
}

// validateRequest checks that the declared input kind has its payload
// field. Runs before any cache or backend work.
func validateRequest(req *PredictRequest) error {
	if req.ModelPath == "" {
		return backends.ValidationError("model_path is required")
	}
	if req.ModelKey == "" {
		return backends.ValidationError("model_key is required")
	}

	switch req.InputType {
	case InputNumeric:
		if req.Inputs == nil {
			return backends.ValidationError("inputs field is required for numeric input")
		}
	case InputImage:
		if req.ImageBase64 == "" {
			return backends.ValidationError("image_base64 field is required for image input")
		}
	case InputCSV:
		if req.CSVData == "" {
			return backends.ValidationError("csv_data field is required for csv input")
		}
	case InputJSON:
		if req.JSONData == nil {
			return backends.ValidationError("json_data field is required for json input")
		}
	case InputText:
		if req.Text == "" {
			return backends.ValidationError("text field is required for text input")
		}
	case InputMultiText:
		if len(req.Texts) == 0 {
			return backends.ValidationError("texts field is required for multi_text input")
		}
	default:
		return backends.ValidationError("unknown input_type %q", req.InputType)
	}

	switch req.OutputType {
	case OutputClassification, OutputRegression, OutputText, OutputImage, OutputJSON:
	default:
		return backends.ValidationError("unknown output_type %q", req.OutputType)
	}
	return nil
}

// buildInput normalizes the request payload into the form the model
// consumes. Detection models take the decoded image directly and do their
// own preprocessing.
func buildInput(req *PredictRequest, model backends.Model) (*backends.Input, error) {
	in := &backends.Input{Annotate: req.OutputType == OutputImage}

	switch req.InputType {
	case InputNumeric:
		t, err := normalize.Numeric(req.Inputs)
		if err != nil {
			return nil, err
		}
		in.Tensor = t
	case InputJSON:
		t, err := normalize.JSON(req.JSONData)
		if err != nil {
			return nil, err
		}
		in.Tensor = t
	case InputCSV:
		t, err := normalize.CSV(req.CSVData)
		if err != nil {
			return nil, err
		}
		in.Tensor = t
	case InputImage:
		if model.Kind() == backends.KindDetection {
			img, err := normalize.DecodeImage(req.ImageBase64)
			if err != nil {
				return nil, wrapNormalizeError(model.Kind(), err)
			}
			in.Image = img
			break
		}
		t, err := normalize.Image(req.ImageBase64, model.Shape(), model.Layout())
		if err != nil {
			return nil, wrapNormalizeError(model.Kind(), err)
		}
		in.Tensor = t
	case InputText:
		ss, err := normalize.Text(req.Text)
		if err != nil {
			return nil, err
		}
		in.Strings = ss
	case InputMultiText:
		ss, err := normalize.Texts(req.Texts)
		if err != nil {
			return nil, err
		}
		in.Strings = ss
	}
	return in, nil
}

// wrapNormalizeError keeps validation errors as-is and classifies anything
// else (e.g. an undecodable image) as an inference-stage failure.
func wrapNormalizeError(kind backends.BackendKind, err error) error {
	if errors.Is(err, backends.ErrValidation) {
		return err
	}
	return backends.InferenceError(kind, err)
}

// buildResponse shapes the inference result for the caller. Detection
// results bypass the formatter; they are already structured.
func buildResponse(req *PredictRequest, model backends.Model, result *backends.Result) (*PredictResponse, error) {
	resp := &PredictResponse{
		Framework: string(model.Kind()),
		ModelKey:  req.ModelKey,
	}

	if model.Kind() == backends.KindDetection {
		if result.Annotated != nil {
			out, err := format.EncodeImage(result.Annotated)
			if err != nil {
				return nil, backends.InferenceError(model.Kind(), err)
			}
			resp.Output = *out
			return resp, nil
		}
		dets := result.Detections
		if dets == nil {
			dets = []backends.Detection{}
		}
		count := len(dets)
		resp.Detections = dets
		resp.Count = &count
		resp.Prediction = dets
		return resp, nil
	}

	if result.Tensor == nil {
		return nil, backends.InferenceError(model.Kind(), errors.New("backend produced no tensor"))
	}

	var out *format.Output
	var err error
	switch req.OutputType {
	case OutputClassification:
		out, err = format.Classification(result.Tensor)
	case OutputRegression:
		out, err = format.Regression(result.Tensor)
	case OutputImage:
		out, err = format.Image(result.Tensor)
	default: // text, json
		out, err = format.Raw(result.Tensor)
	}
	if err != nil {
		return nil, backends.InferenceError(model.Kind(), err)
	}
	resp.Output = *out
	return resp, nil
}
