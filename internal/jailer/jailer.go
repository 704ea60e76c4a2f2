// Package jailer launches the Firecracker jailer chroot process, resolves
// jailed paths onto host paths, and binds an API client to the resulting
// per-VM Unix socket.
package jailer

import (
	"context"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/matchbox-labs/sandboxd/internal/fcapi"
	"github.com/matchbox-labs/sandboxd/internal/sandboxerr"
)

// Config is the set of parameters the jailer binary is launched with.
// Uid/Gid are taken from the caller; sandbox.NewCoordinator supplies the
// effective uid/gid of the orchestrator process.
type Config struct {
	JailerPath    string
	ExecFile      string
	ChrootBaseDir string
	ID            string
	NetnsPath     string
	Uid           int
	Gid           int
}

// Argv returns the exact jailer command line, in the order the jailer
// binary requires: --id, --exec-file, --gid, --uid, --chroot-base-dir,
// --netns.
func (c Config) Argv() []string {
	return []string{
		c.JailerPath,
		"--id", c.ID,
		"--exec-file", c.ExecFile,
		"--gid", strconv.Itoa(c.Gid),
		"--uid", strconv.Itoa(c.Uid),
		"--chroot-base-dir", c.ChrootBaseDir,
		"--netns", c.NetnsPath,
	}
}

// RootDirectory computes chroot_base_dir/file-stem(exec_file)/id/root,
// the directory the jailer chroots the Firecracker process into.
func (c Config) RootDirectory() string {
	stem := fileStem(c.ExecFile)
	return filepath.Join(c.ChrootBaseDir, stem, c.ID, "root")
}

// VMDirectory computes chroot_base_dir/file-stem(exec_file)/id, the
// directory Destroy and the reaper remove wholesale on cleanup. It is
// RootDirectory's parent.
func VMDirectory(chrootBaseDir, execFile, id string) string {
	return filepath.Join(chrootBaseDir, fileStem(execFile), id)
}

func fileStem(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext)
}

// PathResolver maps a jailed absolute path (as Firecracker/the guest sees
// it) onto its host-side equivalent under root_directory.
type PathResolver struct {
	RootDirectory string
}

// Resolve strips the leading "/" from a jailed path and joins it onto
// root_directory.
func (p PathResolver) Resolve(jailedAbsolutePath string) string {
	return filepath.Join(p.RootDirectory, strings.TrimPrefix(jailedAbsolutePath, "/"))
}

// Process is a running jailed Firecracker instance: the path resolver for
// its chroot and the API client bound to its per-VM socket.
type Process struct {
	PathResolver PathResolver
	APIClient    *fcapi.Client
}

// Launcher spawns jailer processes detached inside a named tmux session,
// so the session can be killed by name on sandbox destruction.
type Launcher struct {
	JailerPath      string
	FirecrackerPath string
	ChrootBaseDir   string
}

// Spawn launches a jailed Firecracker instance for id inside network
// namespace netnsPath, and returns the resulting Process. uid/gid should
// be the orchestrator's effective uid/gid unless the caller overrides
// them.
func (l Launcher) Spawn(ctx context.Context, id, netnsPath string, uid, gid int) (*Process, error) {
	cfg := Config{
		JailerPath:    l.JailerPath,
		ExecFile:      l.FirecrackerPath,
		ChrootBaseDir: l.ChrootBaseDir,
		ID:            id,
		NetnsPath:     netnsPath,
		Uid:           uid,
		Gid:           gid,
	}

	argv := cfg.Argv()
	tmuxArgv := append([]string{"tmux", "new-session", "-d", "-s", id}, argv...)

	cmd := exec.CommandContext(ctx, tmuxArgv[0], tmuxArgv[1:]...)
	if err := cmd.Start(); err != nil {
		return nil, sandboxerr.HostCommand(tmuxArgv, "", "", err)
	}

	resolver := PathResolver{RootDirectory: cfg.RootDirectory()}
	socketPath := resolver.Resolve("/run/firecracker.socket")
	client := fcapi.New(socketPath)

	return &Process{PathResolver: resolver, APIClient: client}, nil
}

// Kill terminates the tmux session a sandbox's jailer process was launched
// in. Errors are non-fatal: the session may already be gone.
func Kill(ctx context.Context, id string) error {
	cmd := exec.CommandContext(ctx, "tmux", "kill-session", "-t", id)
	if err := cmd.Run(); err != nil {
		return sandboxerr.HostCommand([]string{"tmux", "kill-session", "-t", id}, "", "", err)
	}
	return nil
}
