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

// Config is the service configuration, populated from flags, environment
// and config file via viper.
type Config struct {
	// ApiUrl is the listen address for the HTTP API, e.g. "http://0.0.0.0:4100".
	ApiUrl string `json:"api_url" mapstructure:"api_url"`

	// MaxConcurrentRequests bounds simultaneous inference calls. 0 uses
	// the default.
	MaxConcurrentRequests int `json:"max_concurrent_requests" mapstructure:"max_concurrent_requests"`

	// MaxQueueSize bounds the backlog waiting for an inference slot. 0
	// uses the default.
	MaxQueueSize int `json:"max_queue_size" mapstructure:"max_queue_size"`

	// RequestTimeout is the maximum queue wait as a duration string
	// ("30s"). Empty or "0" disables the timeout.
	RequestTimeout string `json:"request_timeout" mapstructure:"request_timeout"`
}
