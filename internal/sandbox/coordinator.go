package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	firecracker "github.com/firecracker-microvm/firecracker-go-sdk"

	"github.com/matchbox-labs/sandboxd/internal/fcapi"
	"github.com/matchbox-labs/sandboxd/internal/guestagent"
	"github.com/matchbox-labs/sandboxd/internal/hostnet"
	"github.com/matchbox-labs/sandboxd/internal/ids"
	"github.com/matchbox-labs/sandboxd/internal/jailer"
	"github.com/matchbox-labs/sandboxd/internal/logging"
	"github.com/matchbox-labs/sandboxd/internal/sandboxerr"
)

const (
	firecrackerHealthInterval = 1 * time.Second
	firecrackerHealthTimeout  = 20 * time.Second
	guestHealthInterval       = 500 * time.Millisecond
	guestHealthTimeout        = 10 * time.Second
)

func notImplementedCloudStorage() error {
	return sandboxerr.NotImplemented("cloud storage code drive resolution is not implemented")
}

// JailerLauncher spawns a jailed Firecracker process. jailer.Launcher
// satisfies this; tests substitute a fake bound to a local test socket.
type JailerLauncher interface {
	Spawn(ctx context.Context, id, netnsPath string, uid, gid int) (*jailer.Process, error)
}

// Coordinator wires together the identifier allocator, host network
// provisioner, jailer launcher, and guest agent client into the full
// sandbox lifecycle: provide_sandbox and destroy. Every dependency is a
// field so tests can substitute fakes without touching the host.
type Coordinator struct {
	Allocator       ids.Allocator
	HostInterface   string
	Runner          hostnet.Runner
	JailerLauncher  JailerLauncher
	KernelImagePath string
	RootfsPath      string
	DummyDrivePath  string
	Uid             int
	Gid             int
	Logger          logging.Logger

	// ConnectGuestClient builds the guest agent client for a sandbox's
	// NAT-visible IP. Defaults to guestagent.Connect; tests override it.
	ConnectGuestClient func(ip string) *guestagent.Client
}

// NewCoordinator returns a Coordinator with the production defaults for
// uid/gid and guest client construction filled in.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		Allocator:          ids.RandomAllocator{},
		Runner:             hostnet.ExecRunner{},
		Uid:                os.Geteuid(),
		Gid:                os.Getegid(),
		ConnectGuestClient: guestagent.Connect,
	}
}

func netnsPath(id string) string {
	return filepath.Join("/var/run/netns", id)
}

// vmDirectory is root_directory's parent: chroot_base_dir/stem/id.
func vmDirectory(rootDirectory string) string {
	return filepath.Dir(rootDirectory)
}

// ProvideSandbox runs the full sandbox creation sequence. Any failure
// unwinds every resource created up to that point, in reverse order,
// before the error is returned.
func (c *Coordinator) ProvideSandbox(ctx context.Context, opts ProvideSandboxOptions) (*Sandbox, error) {
	// 1. Allocate id.
	identifier, err := c.Allocator.Allocate()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate identifier: %w", err)
	}
	id := identifier.ID
	block := identifier.AddressBlock()

	unwind := newUnwinder(c.Logger)

	// 2. Compose the default VirtualMachineConfig.
	vmConfig := defaultVMConfig()

	// 3. Build Network.
	interfaces := make([]hostnet.NetworkInterfaceSpec, 0, len(vmConfig.NetworkInterfaces))
	for _, iface := range vmConfig.NetworkInterfaces {
		interfaces = append(interfaces, hostnet.NetworkInterfaceSpec{HostDevName: iface.HostDevName})
	}

	network, err := hostnet.Provision(ctx, id, block, interfaces, c.HostInterface, c.Runner)
	if err != nil {
		return nil, fmt.Errorf("failed to provision network for sandbox %s: %w", id, err)
	}
	unwind.add(func(ctx context.Context) { network.Teardown(ctx, c.logf) })

	// 4. Spawn jailed Firecracker.
	process, err := c.JailerLauncher.Spawn(ctx, id, netnsPath(id), c.Uid, c.Gid)
	if err != nil {
		unwind.run(ctx)
		return nil, fmt.Errorf("failed to spawn jailed firecracker for sandbox %s: %w", id, err)
	}
	unwind.add(func(ctx context.Context) { jailer.Kill(ctx, id) })
	unwind.add(func(ctx context.Context) { os.RemoveAll(vmDirectory(process.PathResolver.RootDirectory)) })

	// 5. Construct guest client against ip(2).
	connect := c.ConnectGuestClient
	if connect == nil {
		connect = guestagent.Connect
	}
	guestClient := connect(block.IP(2))

	// 6. Stage optional user code drive.
	sourcePath, err := resolveCodeDriveSource(opts.CodeDriveLocation, c.DummyDrivePath)
	if err != nil {
		unwind.run(ctx)
		return nil, err
	}

	codeDriveHostPath := process.PathResolver.Resolve("/drives/code-drive.ext4")
	if err := copyFile(sourcePath, codeDriveHostPath); err != nil {
		unwind.run(ctx)
		return nil, sandboxerr.IOError("failed to stage code drive", err)
	}

	vmConfig.Drives = append(vmConfig.Drives, fcapi.Drive{
		DriveID:      "vdb",
		IsRootDevice: false,
		CacheType:    fcapi.CacheUnsafe,
		IoEngine:     fcapi.IoSync,
		IsReadOnly:   firecracker.Bool(false),
		PathOnHost:   "/drives/code-drive.ext4",
	})

	sb := &Sandbox{
		ID:          identifier,
		state:       StateStopped,
		network:     network,
		firecracker: process,
		vmConfig:    vmConfig,
		guestClient: guestClient,
	}

	// 7. Initialize the VM.
	if err := c.initializeVM(ctx, sb); err != nil {
		unwind.run(ctx)
		return nil, err
	}

	sb.state = StateRunning
	return sb, nil
}

// initializeVM runs the a-h sub-routine: Firecracker health wait, logger,
// boot source, drives, network interfaces, start, guest health wait, and
// mounting of non-root drives.
func (c *Coordinator) initializeVM(ctx context.Context, sb *Sandbox) error {
	api := sb.firecracker.APIClient
	resolver := sb.firecracker.PathResolver

	// a. Firecracker health wait.
	if err := api.WaitForHealthy(ctx, firecrackerHealthInterval, firecrackerHealthTimeout); err != nil {
		return err
	}

	// b. Setup logger.
	if sb.vmConfig.Logger != nil {
		logPath := resolver.Resolve(sb.vmConfig.Logger.LogPath)
		if err := touchFile(logPath); err != nil {
			return sandboxerr.IOError("failed to create firecracker log file", err)
		}
		if err := api.Put(ctx, "/logger", sb.vmConfig.Logger); err != nil {
			return err
		}
	}

	// c. Setup boot source.
	kernelPath := resolver.Resolve(sb.vmConfig.BootSource.KernelImagePath)
	if err := os.MkdirAll(filepath.Dir(kernelPath), 0o755); err != nil {
		return sandboxerr.IOError("failed to create kernel directory", err)
	}
	if err := copyFile(c.KernelImagePath, kernelPath); err != nil {
		return sandboxerr.IOError("failed to stage kernel image", err)
	}
	if err := api.Put(ctx, "/boot-source", sb.vmConfig.BootSource); err != nil {
		return err
	}

	// d. Setup drives.
	rootfsPath := resolver.Resolve("/drives/rootfs.ext4")
	if err := os.MkdirAll(filepath.Dir(rootfsPath), 0o755); err != nil {
		return sandboxerr.IOError("failed to create drives directory", err)
	}
	if err := copyFile(c.RootfsPath, rootfsPath); err != nil {
		return sandboxerr.IOError("failed to stage rootfs", err)
	}
	for _, drive := range sb.vmConfig.Drives {
		if err := api.Put(ctx, "/drives/"+drive.DriveID, drive); err != nil {
			return err
		}
	}

	// e. Setup network interfaces.
	for _, iface := range sb.vmConfig.NetworkInterfaces {
		if err := api.Put(ctx, "/network-interfaces/"+iface.IfaceID, iface); err != nil {
			return err
		}
	}

	// f. Start.
	if err := api.Action(ctx, fcapi.ActionInstanceStart); err != nil {
		return err
	}

	// g. Guest-agent health wait.
	if err := sb.guestClient.WaitHealthy(ctx, guestHealthInterval, guestHealthTimeout); err != nil {
		return err
	}

	// h. Mount user drives.
	for _, drive := range sb.vmConfig.Drives {
		if drive.DriveID == "rootfs" {
			continue
		}
		device := "/dev/" + drive.DriveID
		path := "/tmp/" + drive.DriveID
		if err := sb.guestClient.Mount(ctx, device, path); err != nil {
			return err
		}
	}

	return nil
}

// Destroy tears down a sandbox: kills its jailer tmux session, removes
// its VM directory, and drops its Network. Each step is best-effort; a
// failure in one never prevents the others from running. Order is fixed:
// killing the jailer first releases Firecracker's hold on files before
// the directory removal, and the network teardown always runs regardless
// of whether the first two succeeded.
func (c *Coordinator) Destroy(ctx context.Context, sb *Sandbox) {
	if err := jailer.Kill(ctx, sb.ID.ID); err != nil {
		c.logf("failed to kill jailer session for sandbox %s: %v", sb.ID.ID, err)
	}

	vmDir := vmDirectory(sb.firecracker.PathResolver.RootDirectory)
	if err := os.RemoveAll(vmDir); err != nil {
		c.logf("failed to remove vm directory %s: %v", vmDir, err)
	}

	sb.network.Teardown(ctx, c.logf)
}

func (c *Coordinator) logf(format string, args ...interface{}) {
	if c.Logger == nil {
		return
	}
	c.Logger.Warn(context.Background(), fmt.Sprintf(format, args...), nil)
}

// unwinder runs a LIFO stack of cleanup steps, used to tear down whatever
// ProvideSandbox has already built when a later step fails.
type unwinder struct {
	steps  []func(ctx context.Context)
	logger logging.Logger
}

func newUnwinder(logger logging.Logger) *unwinder {
	return &unwinder{logger: logger}
}

func (u *unwinder) add(step func(ctx context.Context)) {
	u.steps = append(u.steps, step)
}

func (u *unwinder) run(ctx context.Context) {
	// Cleanup still runs when ctx was cancelled mid-create.
	ctx = context.WithoutCancel(ctx)
	for i := len(u.steps) - 1; i >= 0; i-- {
		u.steps[i](ctx)
	}
}
