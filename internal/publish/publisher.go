// Package publish writes transcripts as Markdown documents and pushes them
// to a git remote (GitHub Pages layout).
package publish

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Publisher commits transcript documents under a pages directory inside a
// git working tree and pushes them to origin.
type Publisher struct {
	repoRoot string
	pagesDir string
}

// NewPublisher validates that git is available and creates the pages
// directory. pagesDir must live inside repoRoot.
func NewPublisher(repoRoot, pagesDir string) (*Publisher, error) {
	if _, err := exec.LookPath("git"); err != nil {
		return nil, fmt.Errorf("git command not found: %w", err)
	}

	if rel, err := filepath.Rel(repoRoot, pagesDir); err != nil || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("pages dir %s is not inside repo root %s", pagesDir, repoRoot)
	}

	if err := os.MkdirAll(pagesDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create pages dir: %w", err)
	}

	return &Publisher{
		repoRoot: repoRoot,
		pagesDir: pagesDir,
	}, nil
}

// PagesDir returns where transcript documents are written.
func (p *Publisher) PagesDir() string {
	return p.pagesDir
}

// Publish writes "<slug>.md" containing the title heading and transcript
// text, then commits and pushes it. The document stays on disk even when
// the git half fails; callers treat the error as non-fatal.
func (p *Publisher) Publish(ctx context.Context, title, text, slug string) error {
	filename := slug + ".md"
	fullPath := filepath.Join(p.pagesDir, filename)

	content := fmt.Sprintf("# %s\n\n%s", title, text)
	if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write transcript document: %w", err)
	}

	relPath, err := filepath.Rel(p.repoRoot, fullPath)
	if err != nil {
		return fmt.Errorf("failed to resolve document path: %w", err)
	}

	if err := p.git(ctx, "add", relPath); err != nil {
		return err
	}
	if err := p.git(ctx, "commit", "-m", "transcript: "+filename); err != nil {
		return err
	}
	if err := p.git(ctx, "push", "origin"); err != nil {
		return err
	}

	logrus.WithField("document", relPath).Info("Published transcript")
	return nil
}

// git runs one git subcommand in the repo root.
func (p *Publisher) git(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = p.repoRoot
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s failed: %s: %w", args[0], strings.TrimSpace(string(output)), err)
	}
	return nil
}
