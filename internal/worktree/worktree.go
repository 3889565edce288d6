package worktree

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"kild/internal/errors"
)

// Project identifies the repository a worktree will be created under.
type Project struct {
	ID      string
	Name    string
	RootDir string
}

// DetectProject resolves the repository root containing cwd and derives its
// project identity.
func DetectProject(cwd string) (Project, error) {
	root, err := repoRoot(cwd)
	if err != nil {
		return Project{}, errors.New(errors.NotAGitRepo, true, "%q is not inside a git repository", cwd)
	}

	name := DeriveProjectNameFromPath(root)
	if remote, err := originRemote(root); err == nil && remote != "" {
		name = DeriveProjectNameFromRemote(remote)
	}

	return Project{
		ID:      GenerateProjectID(root),
		Name:    name,
		RootDir: root,
	}, nil
}

func repoRoot(dir string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func originRemote(repoDir string) (string, error) {
	cmd := exec.Command("git", "remote", "get-url", "origin")
	cmd.Dir = repoDir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func isGitRepo(dir string) bool {
	cmd := exec.Command("git", "rev-parse", "--git-dir")
	cmd.Dir = dir
	return cmd.Run() == nil
}

// CreateOptions controls how Create builds a worktree.
type CreateOptions struct {
	BranchFrom      string
	UseDetachedHead bool
}

// Create creates (or idempotently reuses) a git worktree for project/branch
// under baseDir, following the same corruption-detection and reuse rules as
// a plain `git worktree add`. Returns the absolute worktree path.
func Create(baseDir string, project Project, branch string, opts CreateOptions) (string, error) {
	if !isGitRepo(project.RootDir) {
		return "", errors.New(errors.NotAGitRepo, true, "%q is not a git repository", project.RootDir)
	}

	worktreePath := CalculateWorktreePath(baseDir, project.Name, branch)

	gitFile := filepath.Join(worktreePath, ".git")
	if info, err := os.Stat(gitFile); err == nil {
		if info.IsDir() {
			return "", errors.New(errors.WorktreeAlreadyExists, true,
				"worktree path %q contains a .git directory (expected a file); remove it to proceed", worktreePath)
		}
		data, err := os.ReadFile(gitFile)
		if err != nil {
			return "", errors.IO(err, "read worktree .git file")
		}
		content := strings.TrimSpace(string(data))
		if !strings.HasPrefix(content, "gitdir:") {
			return "", errors.New(errors.WorktreeAlreadyExists, true,
				"worktree path %q has a corrupt .git file (missing gitdir reference)", worktreePath)
		}
		return worktreePath, nil
	}

	if info, err := os.Stat(worktreePath); err == nil && info.IsDir() {
		entries, _ := os.ReadDir(worktreePath)
		if len(entries) > 0 {
			return "", errors.New(errors.InvalidPath, true,
				"worktree path %q exists but has no .git file; remove it to proceed", worktreePath)
		}
	}

	if err := os.MkdirAll(filepath.Dir(worktreePath), 0o755); err != nil {
		return "", errors.IO(err, "create worktrees directory")
	}

	branchFrom := opts.BranchFrom
	if branchFrom == "" {
		branchFrom = "HEAD"
	}
	reservedBranch := BranchName(branch)

	var args []string
	if opts.UseDetachedHead {
		args = []string{"worktree", "add", "--detach", worktreePath, branchFrom}
	} else {
		args = []string{"worktree", "add", "-b", reservedBranch, worktreePath, branchFrom}
	}

	cmd := exec.Command("git", args...)
	cmd.Dir = project.RootDir
	output, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(output))
		if strings.Contains(msg, "already exists") {
			return "", errors.New(errors.BranchAlreadyExists, true, "git worktree add: %s", msg)
		}
		return "", errors.Wrap(errors.WorktreeNotFound, false, err, "git worktree add: %s", msg)
	}

	return worktreePath, nil
}

// Remove removes a worktree. Unless force is set, it refuses when the
// working tree has uncommitted changes.
func Remove(project Project, worktreePath string, force bool) error {
	if !force {
		cmd := exec.Command("git", "status", "--porcelain")
		cmd.Dir = worktreePath
		out, err := cmd.Output()
		if err == nil && len(strings.TrimSpace(string(out))) > 0 {
			return errors.New(errors.WorktreeDirty, true,
				"worktree %q has uncommitted changes; pass force to remove anyway", worktreePath)
		}
	}

	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, worktreePath)

	cmd := exec.Command("git", args...)
	cmd.Dir = project.RootDir
	if output, err := cmd.CombinedOutput(); err != nil {
		return errors.Wrap(errors.WorktreeNotFound, false, err, "git worktree remove: %s", strings.TrimSpace(string(output)))
	}
	return nil
}
