// Package cliadapter implements the subprocess-backed provider adapter
// (type=cli), grounded on the original Claude CLI provider: it shells
// out to an executable with a prompt built from the TaskPacket's goal,
// under a per-task timeout, and classifies rate limiting from combined
// stdout/stderr text.
package cliadapter

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/CraigThomasParsons/mason/domain"
)

// defaultRateLimitPatterns mirrors the original adapter's substring list.
var defaultRateLimitPatterns = []string{
	"rate limit",
	"too many requests",
	"quota exceeded",
	"429",
	"overloaded",
}

// Config configures one CLI-backed provider instance.
type Config struct {
	Name              string
	Executable        string
	WorkDirRoot       string // parent of per-task working directories
	TimeoutSeconds    int
	RateLimitPatterns []string
}

// Adapter runs a generation task as a subprocess.
type Adapter struct {
	cfg Config
}

// New builds an Adapter. Executable defaults to "claude", TimeoutSeconds
// to 180, WorkDirRoot to os.TempDir()/mason/<name>, matching the
// original provider's defaults.
func New(cfg Config) *Adapter {
	if cfg.Executable == "" {
		cfg.Executable = "claude"
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 180
	}
	if cfg.WorkDirRoot == "" {
		cfg.WorkDirRoot = filepath.Join(os.TempDir(), "mason", cfg.Name)
	}
	if len(cfg.RateLimitPatterns) == 0 {
		cfg.RateLimitPatterns = defaultRateLimitPatterns
	}
	return &Adapter{cfg: cfg}
}

// Generate runs the CLI tool against a prompt built from packet.
func (a *Adapter) Generate(ctx context.Context, packet domain.TaskPacket) domain.ArtifactBundle {
	taskID := packet.Identity.TaskID
	start := time.Now()

	workDir, err := a.createWorkDir(taskID)
	if err != nil {
		return domain.ArtifactBundle{
			TaskID:          taskID,
			Provider:        a.cfg.Name,
			ExecutionStatus: domain.StatusFailure,
			Error:           fmt.Sprintf("creating work dir: %v", err),
		}
	}

	timeout := time.Duration(a.cfg.TimeoutSeconds) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prompt := buildPrompt(packet)
	cmd := exec.CommandContext(runCtx, a.cfg.Executable, prompt)
	cmd.Dir = workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	durationMS := time.Since(start).Milliseconds()
	combined := stdout.String() + stderr.String()

	if a.isRateLimited(combined) {
		return domain.ArtifactBundle{
			TaskID:          taskID,
			Provider:        a.cfg.Name,
			ExecutionStatus: domain.StatusProviderFailure,
			Logs:            combined,
			Error:           "rate limited",
			IsRateLimit:     true,
			DurationMS:      durationMS,
		}
	}

	if runCtx.Err() == context.DeadlineExceeded {
		return domain.ArtifactBundle{
			TaskID:          taskID,
			Provider:        a.cfg.Name,
			ExecutionStatus: domain.StatusFailure,
			Error:           fmt.Sprintf("timeout after %ds", a.cfg.TimeoutSeconds),
			DurationMS:      timeout.Milliseconds(),
		}
	}

	if runErr != nil {
		if a.DetectRateLimit(runErr) {
			return domain.ArtifactBundle{
				TaskID:          taskID,
				Provider:        a.cfg.Name,
				ExecutionStatus: domain.StatusProviderFailure,
				Error:           runErr.Error(),
				IsRateLimit:     true,
				DurationMS:      durationMS,
			}
		}
		return domain.ArtifactBundle{
			TaskID:          taskID,
			Provider:        a.cfg.Name,
			ExecutionStatus: domain.StatusFailure,
			Logs:            combined,
			Error:           stderr.String(),
			DurationMS:      durationMS,
		}
	}

	modified, _ := detectModifiedFiles(workDir)
	return domain.ArtifactBundle{
		TaskID:          taskID,
		Provider:        a.cfg.Name,
		ExecutionStatus: domain.StatusSuccess,
		FilesModified:   modified,
		Logs:            stdout.String(),
		DurationMS:      durationMS,
		ArtifactsPath:   workDir,
	}
}

// IsAvailable runs `<executable> --version` as a cheap liveness probe.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return exec.CommandContext(probeCtx, a.cfg.Executable, "--version").Run() == nil
}

// DetectRateLimit classifies an error that escaped the internal flow.
func (a *Adapter) DetectRateLimit(err error) bool {
	if err == nil {
		return false
	}
	return a.isRateLimited(err.Error())
}

func (a *Adapter) isRateLimited(text string) bool {
	lower := strings.ToLower(text)
	for _, pattern := range a.cfg.RateLimitPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

func (a *Adapter) createWorkDir(taskID string) (string, error) {
	dir := filepath.Join(a.cfg.WorkDirRoot, taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func buildPrompt(packet domain.TaskPacket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n%s\n\nSuccess Criteria:\n", packet.Goal.Title, packet.Goal.Description)
	for _, c := range packet.Goal.SuccessCriteria {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	return b.String()
}

func detectModifiedFiles(workDir string) ([]string, error) {
	var files []string
	err := filepath.Walk(workDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			return nil
		}
		rel, relErr := filepath.Rel(workDir, path)
		if relErr != nil {
			return relErr
		}
		files = append(files, rel)
		return nil
	})
	return files, err
}
