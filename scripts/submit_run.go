// submit_run.go — standalone script to submit an analysis run via the espresso API.
//
// Usage:
//
//	go run scripts/submit_run.go -config analysis.yaml -api http://localhost:8700 -name "ttHbb 2018"
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
)

type createRunRequest struct {
	Name      string `json:"name"`
	Submitter string `json:"submitter,omitempty"`
	Config    string `json:"config"`
	DryRun    bool   `json:"dry_run,omitempty"`
}

func main() {
	configPath := flag.String("config", "analysis.yaml", "path to analysis config YAML")
	apiURL := flag.String("api", "http://localhost:8700", "espresso API base URL")
	name := flag.String("name", "", "run name (defaults to the config file name)")
	submitter := flag.String("submitter", os.Getenv("USER"), "submitter recorded on the run")
	dryRun := flag.Bool("dry-run", false, "validate only, print the resolved configuration")
	flag.Parse()

	data, err := os.ReadFile(*configPath)
	if err != nil {
		log.Fatalf("read config: %v", err)
	}

	runName := *name
	if runName == "" {
		runName = *configPath
	}

	payload, err := json.Marshal(createRunRequest{
		Name:      runName,
		Submitter: *submitter,
		Config:    string(data),
		DryRun:    *dryRun,
	})
	if err != nil {
		log.Fatalf("encode request: %v", err)
	}

	resp, err := http.Post(*apiURL+"/api/v1/runs", "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("post run: %v", err)
	}
	defer resp.Body.Close()

	var body bytes.Buffer
	if _, err := body.ReadFrom(resp.Body); err != nil {
		log.Fatalf("read response: %v", err)
	}

	if resp.StatusCode >= 400 {
		log.Fatalf("submission rejected (%d): %s", resp.StatusCode, body.String())
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body.Bytes(), "", "  "); err == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(body.String())
	}
}
