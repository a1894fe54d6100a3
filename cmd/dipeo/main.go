// Command dipeo is the CLI client for the execution server: it runs diagram
// files, watches their event streams, and aborts executions.
//
// Exit codes: 0 completed, 1 failed, 2 timed out, 3 aborted, 4 load or
// validation error.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dipeo/dipeo/common/compile"
	"github.com/dipeo/dipeo/common/diagram"
	"github.com/dipeo/dipeo/common/diagram/format"
	"github.com/dipeo/dipeo/common/execution"
	"github.com/dipeo/dipeo/common/ids"
	"github.com/dipeo/dipeo/common/sdk"
)

const (
	exitCompleted = 0
	exitFailed    = 1
	exitTimeout   = 2
	exitAborted   = 3
	exitLoadError = 4
)

const defaultServer = "http://localhost:8080"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitLoadError)
	}

	switch os.Args[1] {
	case "run":
		os.Exit(runCmd(os.Args[2:]))
	case "abort":
		os.Exit(abortCmd(os.Args[2:]))
	case "list":
		os.Exit(listCmd(os.Args[2:]))
	default:
		usage()
		os.Exit(exitLoadError)
	}
}

// parseArgs runs fs over args, allowing flags after positional arguments,
// and returns the positionals.
func parseArgs(fs *flag.FlagSet, args []string) []string {
	fs.Parse(args)
	positionals := []string{}
	rest := fs.Args()
	for len(rest) > 0 {
		positionals = append(positionals, rest[0])
		if len(rest) == 1 {
			break
		}
		fs.Parse(rest[1:])
		rest = fs.Args()
	}
	return positionals
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  dipeo run <diagram-file> [--watch] [--timeout 60] [--inputs '{"k":"v"}'] [--format name] [--server url]
  dipeo abort <execution-id> [--server url]
  dipeo list [--status RUNNING] [--limit 20] [--server url]`)
}

func runCmd(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	watch := fs.Bool("watch", false, "stream execution events while waiting")
	timeoutSec := fs.Int("timeout", 300, "seconds to wait for completion")
	inputsJSON := fs.String("inputs", "", "execution variables as a JSON object")
	formatName := fs.String("format", "", "diagram format (auto-detected by default)")
	serverURL := fs.String("server", defaultServer, "server base URL")

	positionals := parseArgs(fs, args)
	if len(positionals) != 1 {
		fmt.Fprintln(os.Stderr, "run: exactly one diagram file is required")
		return exitLoadError
	}
	path := positionals[0]

	content, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		return exitLoadError
	}

	var variables map[string]interface{}
	if *inputsJSON != "" {
		if err := json.Unmarshal([]byte(*inputsJSON), &variables); err != nil {
			fmt.Fprintf(os.Stderr, "run: parse --inputs: %v\n", err)
			return exitLoadError
		}
	}

	// Validate locally before involving the server; parse and compile errors
	// are load errors regardless of where they surface.
	d, detected, err := parseFile(content, path, *formatName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		return exitLoadError
	}
	if _, err := compile.New(compile.Options{DiagramPath: path}).Compile(d); err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		return exitLoadError
	}

	timeout := time.Duration(*timeoutSec) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client := sdk.NewClient(sdk.ClientOpts{BaseURL: *serverURL, Timeout: timeout})
	execID, err := client.Execute(ctx, &sdk.ExecuteRequest{
		Diagram:    string(content),
		Format:     detected,
		Variables:  variables,
		CLISession: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		return exitLoadError
	}
	fmt.Printf("execution %s started\n", execID)

	if *watch {
		err = client.Watch(ctx, execID, 0, printEvent)
	} else {
		err = pollUntilTerminal(ctx, client, execID)
	}
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintf(os.Stderr, "run: timed out after %s\n", timeout)
			return exitTimeout
		}
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		return exitFailed
	}

	// The watch loop ends on the terminal event; the final state carries the
	// outcome and outputs.
	st, err := client.GetExecution(context.Background(), execID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		return exitFailed
	}
	return report(st)
}

func parseFile(content []byte, path, formatName string) (*diagram.DomainDiagram, string, error) {
	if formatName != "" {
		strategy, err := format.ByName(formatName)
		if err != nil {
			return nil, "", err
		}
		parsed, err := strategy.DeserializeToDomain(content, path)
		if err != nil {
			return nil, "", err
		}
		return parsed, strategy.Name(), nil
	}
	parsed, strategy, err := format.Detect(content, path)
	if err != nil {
		return nil, "", err
	}
	return parsed, strategy.Name(), nil
}

func printEvent(frame sdk.EventFrame) error {
	line := fmt.Sprintf("[%s] %s", frame.Timestamp.Format(time.TimeOnly), frame.EventType)
	if len(frame.Data) > 0 {
		var payload map[string]interface{}
		if json.Unmarshal(frame.Data, &payload) == nil {
			if nodeID, ok := payload["node_id"].(string); ok {
				line += " " + nodeID
			}
			if errMsg, ok := payload["error"].(string); ok && errMsg != "" {
				line += ": " + errMsg
			}
		}
	}
	fmt.Println(line)
	return nil
}

func pollUntilTerminal(ctx context.Context, client *sdk.Client, execID ids.ExecutionID) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			st, err := client.GetExecution(ctx, execID)
			if err != nil {
				return err
			}
			if st.Status.Terminal() {
				return nil
			}
		}
	}
}

func report(st *execution.State) int {
	fmt.Printf("execution %s: %s\n", st.ID, st.Status)
	if st.Error != "" {
		fmt.Fprintf(os.Stderr, "error: %s\n", st.Error)
	}
	if len(st.Outputs) > 0 {
		if data, err := json.MarshalIndent(st.Outputs, "", "  "); err == nil {
			fmt.Printf("outputs:\n%s\n", data)
		}
	}

	switch st.Status {
	case execution.StatusCompleted:
		return exitCompleted
	case execution.StatusAborted:
		return exitAborted
	default:
		return exitFailed
	}
}

func abortCmd(args []string) int {
	fs := flag.NewFlagSet("abort", flag.ExitOnError)
	serverURL := fs.String("server", defaultServer, "server base URL")

	positionals := parseArgs(fs, args)
	if len(positionals) != 1 {
		fmt.Fprintln(os.Stderr, "abort: exactly one execution ID is required")
		return exitLoadError
	}

	client := sdk.NewClient(sdk.ClientOpts{BaseURL: *serverURL})
	execID := ids.ExecutionID(positionals[0])
	if err := client.Control(context.Background(), execID, sdk.ActionAbort, ""); err != nil {
		fmt.Fprintf(os.Stderr, "abort: %v\n", err)
		return exitFailed
	}
	fmt.Printf("execution %s aborted\n", execID)
	return exitCompleted
}

func listCmd(args []string) int {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	status := fs.String("status", "", "filter by status")
	limit := fs.Int("limit", 20, "maximum rows")
	serverURL := fs.String("server", defaultServer, "server base URL")
	fs.Parse(args)

	client := sdk.NewClient(sdk.ClientOpts{BaseURL: *serverURL})
	list, err := client.ListExecutions(context.Background(), *status, *limit, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list: %v\n", err)
		return exitFailed
	}

	for _, st := range list {
		ended := "-"
		if st.EndedAt != nil {
			ended = st.EndedAt.Format(time.RFC3339)
		}
		fmt.Printf("%s\t%s\t%s\t%s\n", st.ID, st.Status, st.StartedAt.Format(time.RFC3339), ended)
	}
	return exitCompleted
}
