// Package deploy exports a generated project to disk and optionally hands
// the directory to a publish command.
package deploy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"prompt2web_server/internal/types"
)

// ErrUnsafePath rejects file names that would escape the project directory.
var ErrUnsafePath = errors.New("unsafe file path")

type Deployer struct {
	outputDir      string
	publishCommand []string
}

// Result tells where the project was written and what the publish command
// printed, if one ran.
type Result struct {
	Path   string `json:"path"`
	Output string `json:"output,omitempty"`
	URL    string `json:"url,omitempty"`
}

// NewDeployer writes projects under outputDir. publishCommand is split on
// whitespace and run with the project directory appended as last argument.
func NewDeployer(outputDir, publishCommand string) *Deployer {
	return &Deployer{
		outputDir:      outputDir,
		publishCommand: strings.Fields(publishCommand),
	}
}

// DeployFiles writes files into <outputDir>/<projectID> and runs the publish
// command when one is configured.
func (d *Deployer) DeployFiles(ctx context.Context, projectID string, files types.FileSet) (*Result, error) {
	if err := checkPath(projectID); err != nil || strings.Contains(projectID, "/") {
		return nil, fmt.Errorf("%w: project id %q", ErrUnsafePath, projectID)
	}
	for name := range files {
		if err := checkPath(name); err != nil {
			return nil, err
		}
	}

	dir := filepath.Join(d.outputDir, projectID)
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("failed to clear %s: %w", dir, err)
	}
	for name, content := range files {
		filePath := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create subdirectories for %s: %w", name, err)
		}
		if err := os.WriteFile(filePath, []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write file %s: %w", name, err)
		}
	}
	log.Info("Wrote project files", "count", len(files), "dir", dir)

	res := &Result{Path: dir}
	if len(d.publishCommand) == 0 {
		return res, nil
	}

	args := append(append([]string{}, d.publishCommand[1:]...), dir)
	cmd := exec.CommandContext(ctx, d.publishCommand[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Info("Running publish command", "cmd", cmd.String())
	if err := cmd.Run(); err != nil {
		log.Error("Publish command failed", "stderr", stderr.String())
		return nil, fmt.Errorf("publish failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	res.Output = strings.TrimSpace(stdout.String())
	res.URL = extractURL(res.Output)
	return res, nil
}

// checkPath accepts relative forward-slash paths that stay inside the
// project directory.
func checkPath(name string) error {
	if name == "" || strings.ContainsRune(name, '\\') || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	clean := path.Clean(name)
	if path.IsAbs(clean) || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return nil
}

// extractURL picks the last http(s) URL printed by the publish command.
func extractURL(output string) string {
	fields := strings.Fields(output)
	for i := len(fields) - 1; i >= 0; i-- {
		f := strings.Trim(fields[i], `"'()<>,`)
		if strings.HasPrefix(f, "https://") || strings.HasPrefix(f, "http://") {
			return f
		}
	}
	return ""
}
