// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/antflydb/mantis/lib/backends"
	"github.com/spf13/cobra"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List compiled-in inference backends",
	Long: `Show every inference backend in this build, whether its native
runtime is available, and the runtime version where known.

TensorFlow requires building with -tags=tf, TorchScript and YOLO
detection with -tags=torch. ONNX Runtime is always compiled in and
probes its shared library at startup.`,
	RunE: runBackends,
}

func init() {
	rootCmd.AddCommand(backendsCmd)
}

func runBackends(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tNAME\tAVAILABLE\tVERSION")
	for _, s := range backends.Capabilities() {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", s.Kind, s.Name, s.Available, s.Version)
	}
	return w.Flush()
}
