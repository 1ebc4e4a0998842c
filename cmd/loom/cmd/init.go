package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"golang.org/x/mod/module"
)

func init() {
	RegisterCommand(&Command{
		Name:  "init",
		Short: "Create a new Loom project",
		Long: `Create a new Loom project in a new directory.

This command creates:
  - A new directory at the specified path
  - go.mod with the specified module path
  - main.go with a starter application
  - loom.yaml with default settings

The project name is derived from the directory basename.
The module path defaults to the project name if not specified.

Examples:
  loom init myapp
  loom init myapp github.com/username/myapp
  loom init ./projects/myapp`,
		Usage: "loom init <directory> [module-path]",
		Run:   runInit,
	})
}

// initTemplateData contains the data for init template substitution.
type initTemplateData struct {
	ModulePath  string
	ProjectName string
}

func runInit(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("directory is required\n\nUsage: loom init <directory> [module-path]")
	}

	raw := args[0]
	if strings.HasPrefix(raw, "~") {
		return fmt.Errorf("tilde (~) is not expanded by loom; use an absolute path or $HOME instead")
	}

	dir := filepath.Clean(raw)
	if err := validateDirectory(dir); err != nil {
		return err
	}

	projectName := filepath.Base(dir)
	modulePath := projectName
	if len(args) > 1 {
		modulePath = args[1]
	}
	if modulePath == "" {
		return fmt.Errorf("module path cannot be empty")
	}

	if err := validateProjectName(projectName); err != nil {
		return fmt.Errorf("invalid project name %q (derived from directory basename): %w", projectName, err)
	}
	if strings.Contains(modulePath, "/") || strings.Contains(modulePath, ".") {
		if err := module.CheckPath(modulePath); err != nil {
			return fmt.Errorf("invalid module path %q: %w", modulePath, err)
		}
	}

	if err := scaffoldProject(dir, modulePath, projectName); err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("Project created successfully!\n\n")
	fmt.Printf("Next steps:\n")
	fmt.Printf("  cd %s\n", dir)
	fmt.Printf("  go mod tidy\n")
	fmt.Printf("  go run .\n")

	return nil
}

// scaffoldProject creates the project directory and writes the template
// files. No side effects beyond the filesystem, so tests can call it
// without network access.
func scaffoldProject(dir, modulePath, projectName string) error {
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("directory %q already exists", dir)
	}

	fmt.Printf("Creating new Loom project: %s\n", projectName)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data := initTemplateData{
		ModulePath:  modulePath,
		ProjectName: projectName,
	}

	initFiles := []struct {
		name     string
		template string
	}{
		{"go.mod", goModTemplate},
		{"main.go", mainTemplate},
		{"loom.yaml", loomYamlTemplate},
	}

	for _, f := range initFiles {
		if err := writeInitTemplate(dir, f.name, f.template, data); err != nil {
			safeRemoveAll(dir)
			return err
		}
		fmt.Printf("  Created %s\n", f.name)
	}

	return nil
}

func writeInitTemplate(projectDir, destName, content string, data initTemplateData) error {
	tmpl, err := template.New(destName).Parse(content)
	if err != nil {
		return fmt.Errorf("failed to parse template %s: %w", destName, err)
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("failed to execute template %s: %w", destName, err)
	}

	destPath := filepath.Join(projectDir, destName)
	if err := os.WriteFile(destPath, []byte(buf.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", destName, err)
	}
	return nil
}

// validateDirectory rejects directory paths that would be dangerous to
// create or clean up: filesystem roots, the current/parent directory, and
// root-level absolute paths (e.g. /etc).
func validateDirectory(dir string) error {
	switch dir {
	case "", "/", ".", "..":
		return fmt.Errorf("directory %q is not a valid project location", dir)
	}
	if isVolumeRoot(dir) {
		return fmt.Errorf("directory %q is not a valid project location", dir)
	}
	if filepath.IsAbs(dir) && isVolumeRoot(filepath.Dir(dir)) {
		return fmt.Errorf("refusing to create project at root-level path %q", dir)
	}
	return nil
}

// isVolumeRoot reports whether dir is a filesystem root. On Unix this is
// "/", on Windows this covers drive roots like "C:\".
func isVolumeRoot(dir string) bool {
	return dir == filepath.VolumeName(dir)+string(filepath.Separator)
}

// safeRemoveAll removes a directory only if the path passes
// validateDirectory. It silently no-ops for dangerous paths since it runs
// on cleanup paths where the original error should not be masked.
func safeRemoveAll(dir string) {
	if validateDirectory(dir) != nil {
		return
	}
	os.RemoveAll(dir)
}

var validProjectName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// validateProjectName checks that a project name (derived from the
// directory basename) starts with a letter and contains only letters,
// digits, underscores, and hyphens.
func validateProjectName(name string) error {
	if name == "" {
		return fmt.Errorf("project name cannot be empty")
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("project name cannot start with a dot")
	}
	if strings.HasPrefix(name, "-") {
		return fmt.Errorf("project name cannot start with a hyphen")
	}
	if !validProjectName.MatchString(name) {
		return fmt.Errorf("project name must start with a letter and contain only letters, numbers, underscores, and hyphens")
	}
	return nil
}

const goModTemplate = `module {{.ModulePath}}

go 1.24

require github.com/go-loom/loom v0.1.0
`

const mainTemplate = `package main

import (
	"context"
	"fmt"
	"log"

	"github.com/go-loom/loom/pkg/compose"
	"github.com/go-loom/loom/pkg/runtime"
)

type app struct{}

func (app) Compose(cx *compose.Scope) compose.Node {
	counter := compose.UseState(cx, func() int { return 0 })
	n, _ := counter.Get()
	return compose.Primitive{
		Kind: "column",
		Children: []compose.Node{
			compose.Primitive{
				Kind:  "text",
				Attrs: compose.Attrs{"role": "text", "label": fmt.Sprintf("count: %d", n)},
			},
		},
	}
}

func main() {
	rt := runtime.New(runtime.Options{InspectorAddr: "localhost:7353"})
	if err := rt.Run(context.Background(), app{}); err != nil {
		log.Fatal(err)
	}
}
`

const loomYamlTemplate = `app:
  name: {{.ProjectName}}
inspector:
  addr: localhost:7353
`
