package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-loom/loom/cmd/loom/internal/config"
)

func init() {
	RegisterCommand(&Command{
		Name:  "inspect",
		Short: "Query a running app's inspector",
		Long: `Query the HTTP inspector of a running Loom application.

Endpoints:
  tree      The reconciled output tree
  scopes    The live scope table
  stats     Pass and compose counters
  health    Liveness and instance id

The inspector address is taken from --addr, falling back to the
inspector.addr setting in loom.yaml, then to localhost:7353.

Examples:
  loom inspect tree
  loom inspect stats --addr localhost:9000`,
		Usage: "loom inspect <tree|scopes|stats|health> [--addr host:port]",
		Run:   runInspect,
	})
}

var inspectEndpoints = map[string]string{
	"tree":   "/tree",
	"scopes": "/scopes",
	"stats":  "/stats",
	"health": "/health",
}

func runInspect(args []string) error {
	endpoint := ""
	addr := ""

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--addr":
			if i+1 >= len(args) {
				return fmt.Errorf("--addr requires a host:port value")
			}
			addr = args[i+1]
			i++
		case strings.HasPrefix(arg, "--addr="):
			addr = strings.TrimPrefix(arg, "--addr=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag %q", arg)
		default:
			if endpoint != "" {
				return fmt.Errorf("unexpected argument %q", arg)
			}
			endpoint = arg
		}
	}

	if endpoint == "" {
		return fmt.Errorf("endpoint is required\n\nUsage: loom inspect <tree|scopes|stats|health> [--addr host:port]")
	}
	path, ok := inspectEndpoints[endpoint]
	if !ok {
		return fmt.Errorf("unknown endpoint %q (want tree, scopes, stats, or health)", endpoint)
	}

	if addr == "" {
		addr = resolveInspectorAddr()
	}

	client := &http.Client{Timeout: 5 * time.Second}
	url := fmt.Sprintf("http://%s%s", addr, path)
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("inspector not reachable at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading inspector response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inspector returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	os.Stdout.Write(body)
	if len(body) > 0 && body[len(body)-1] != '\n' {
		fmt.Println()
	}
	return nil
}

// resolveInspectorAddr uses loom.yaml when run inside a project, falling
// back to the default address.
func resolveInspectorAddr() string {
	root, err := config.FindProjectRoot()
	if err != nil {
		return config.DefaultInspectorAddr
	}
	resolved, err := config.Resolve(root)
	if err != nil {
		return config.DefaultInspectorAddr
	}
	return resolved.InspectorAddr
}
