// Command botdetect-admin is a thin CLI client over the engine's admin API:
// inspecting and overriding pattern reputation, exporting training data,
// triggering a policy reload, and submitting feedback labels.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	gateway := os.Getenv("BOTDETECT_GATEWAY_URL")
	if gateway == "" {
		gateway = "http://localhost:8080"
	}
	token := os.Getenv("BOTDETECT_ADMIN_TOKEN")

	switch os.Args[1] {
	case "inspect":
		cmdInspect(gateway, token)
	case "override":
		cmdOverride(gateway, token)
	case "export":
		cmdExport(gateway, token)
	case "reload":
		cmdReload(gateway, token)
	case "feedback":
		cmdFeedback(gateway, token)
	case "version":
		fmt.Printf("botdetect-admin v%s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Bot Classification Engine Admin CLI v` + version + `

Usage: botdetect-admin <command> [flags]

Commands:
  inspect    Inspect a pattern's reputation record
  override   Manually set a pattern's reputation state
  export     Stream every held reputation record as ndjson
  reload     Reload policies.yaml on the running engine
  feedback   Submit a ground-truth label for a pattern into online learning
  version    Print version
  help       Show this help

Environment:
  BOTDETECT_GATEWAY_URL   Engine base URL (default: http://localhost:8080)
  BOTDETECT_ADMIN_TOKEN   Admin bearer token

Examples:
  botdetect-admin inspect --pattern ua:3f9a...
  botdetect-admin override --pattern ip:10.0.0.0/24 --state manually_blocked
  botdetect-admin export > training_data.ndjson
  botdetect-admin reload
  botdetect-admin feedback --pattern ua:3f9a... --label 0`)
}

func cmdInspect(gateway, token string) {
	pattern := flagValue(os.Args[2:], "--pattern")
	if pattern == "" {
		fmt.Fprintln(os.Stderr, "Error: --pattern is required")
		os.Exit(1)
	}

	body, err := doRequest("GET", gateway+"/admin/v1/reputation/"+pattern, nil, token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(body)
}

func cmdOverride(gateway, token string) {
	args := os.Args[2:]
	pattern := flagValue(args, "--pattern")
	state := flagValue(args, "--state")
	if pattern == "" || state == "" {
		fmt.Fprintln(os.Stderr, "Error: --pattern and --state are required")
		os.Exit(1)
	}

	reqBody, _ := json.Marshal(map[string]string{"state": state})
	body, err := doRequest("POST", gateway+"/admin/v1/reputation/"+pattern+"/override", reqBody, token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(body)
}

func cmdExport(gateway, token string) {
	req, err := http.NewRequest("GET", gateway+"/admin/v1/reputation/export", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(1)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	io.Copy(os.Stdout, resp.Body)
}

func cmdFeedback(gateway, token string) {
	args := os.Args[2:]
	pattern := flagValue(args, "--pattern")
	labelArg := flagValue(args, "--label")
	if pattern == "" || labelArg == "" {
		fmt.Fprintln(os.Stderr, "Error: --pattern and --label are required")
		os.Exit(1)
	}
	label, err := strconv.ParseFloat(labelArg, 64)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error: --label must be 0 or 1")
		os.Exit(1)
	}

	reqBody, _ := json.Marshal(map[string]interface{}{"pattern_id": pattern, "label": label})
	body, err := doRequest("POST", gateway+"/admin/v1/feedback", reqBody, token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(body)
}

func cmdReload(gateway, token string) {
	body, err := doRequest("POST", gateway+"/admin/v1/policy/reload", nil, token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(body)
}

func doRequest(method, url string, body []byte, token string) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		reqBody = strings.NewReader(string(body))
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

func flagValue(args []string, name string) string {
	for i, a := range args {
		if a == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func printJSON(body []byte) {
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		fmt.Println(string(body))
		return
	}
	pretty, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(pretty))
}
