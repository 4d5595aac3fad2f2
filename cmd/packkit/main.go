// Command packkit emits a deterministic minimal PackSpec v1 run pack, for
// checking that independent pack producers agree byte for byte.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/davidahmann/gait-sdk-go/core/producer"
)

type buildSummary struct {
	CreatedAt       string `json:"created_at"`
	OK              bool   `json:"ok"`
	Path            string `json:"path"`
	ProducerVersion string `json:"producer_version"`
	RunID           string `json:"run_id"`
	SHA256          string `json:"sha256"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(arguments []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("packkit", flag.ContinueOnError)
	flags.SetOutput(stderr)
	outPath := flags.String("out", "", "output pack zip path (required)")
	runID := flags.String("run-id", producer.DefaultRunID, "source run id")
	producerVersion := flags.String("producer-version", producer.DefaultProducerVersion, "producer version string")
	createdAt := flags.String("created-at", producer.DefaultCreatedAt, "RFC3339 timestamp for deterministic pack metadata")
	if err := flags.Parse(arguments); err != nil {
		return 2
	}
	if *outPath == "" {
		fmt.Fprintln(stderr, "packkit: --out is required")
		flags.Usage()
		return 2
	}

	result, err := producer.Write(*outPath, producer.Options{
		RunID:           *runID,
		ProducerVersion: *producerVersion,
		CreatedAt:       *createdAt,
	})
	if err != nil {
		fmt.Fprintf(stderr, "packkit: %v\n", err)
		return 1
	}

	summary := buildSummary{
		CreatedAt:       *createdAt,
		OK:              true,
		Path:            *outPath,
		ProducerVersion: *producerVersion,
		RunID:           *runID,
		SHA256:          result.SHA256,
	}
	encoded, err := json.Marshal(summary)
	if err != nil {
		fmt.Fprintf(stderr, "packkit: encode summary: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, string(encoded))
	return 0
}
