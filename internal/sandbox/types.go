// Package sandbox implements the sandbox lifecycle coordinator: given a
// set of creation options it allocates an identifier, provisions host
// networking, launches a jailed Firecracker instance, configures and
// starts the VM, waits for the guest agent, and registers the result —
// unwinding every partial step on failure.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"sync"

	firecracker "github.com/firecracker-microvm/firecracker-go-sdk"

	"github.com/matchbox-labs/sandboxd/internal/fcapi"
	"github.com/matchbox-labs/sandboxd/internal/guestagent"
	"github.com/matchbox-labs/sandboxd/internal/hostnet"
	"github.com/matchbox-labs/sandboxd/internal/ids"
	"github.com/matchbox-labs/sandboxd/internal/jailer"
)

// State is a sandbox's lifecycle state.
type State string

const (
	StateStopped State = "Stopped"
	StateRunning State = "Running"
	StatePaused  State = "Paused"
)

// LocationKind tags a Location variant.
type LocationKind string

const (
	LocationLocal        LocationKind = "Local"
	LocationCloudStorage LocationKind = "CloudStorage"
)

// Location names where the optional user code drive image comes from.
// CloudStorage is accepted on the wire but not yet implemented.
type Location struct {
	Type LocationKind `json:"type"`
	Path string       `json:"path"`
}

// ProvideSandboxOptions configures a single provide_sandbox call.
type ProvideSandboxOptions struct {
	CodeDriveLocation *Location
}

// Sandbox is one live micro-VM: its identifier, lifecycle state, and the
// host-side resources it exclusively owns. Network, Firecracker, and
// GuestClient are private — callers outside this package only ever see
// read-only views (id, ip) via the registry.
type Sandbox struct {
	ID       ids.VmIdentifier
	state    State
	network  *hostnet.Network
	firecracker *jailer.Process
	vmConfig fcapi.VirtualMachineConfig
	guestClient *guestagent.Client
	guestMu     sync.Mutex
}

// IP returns the sandbox's NAT-visible guest IP, ip(2).
func (s *Sandbox) IP() string {
	return s.ID.AddressBlock().IP(2)
}

// State returns the sandbox's current lifecycle state.
func (s *Sandbox) State() State { return s.state }

// Execute runs a command in the guest, serialized against every other
// agent RPC on this sandbox via guestMu.
func (s *Sandbox) Execute(ctx context.Context, command string, arguments []string) (string, error) {
	s.guestMu.Lock()
	defer s.guestMu.Unlock()
	return s.guestClient.Execute(ctx, command, arguments)
}

// View is a read-only snapshot of a sandbox exposed by the registry.
type View struct {
	ID string `json:"id"`
	IP string `json:"ip"`
}

func (s *Sandbox) view() View {
	return View{ID: s.ID.ID, IP: s.IP()}
}

// defaultVMConfig builds the fixed default VirtualMachineConfig every
// sandbox starts from: one logger, one boot source, one rootfs drive, and
// one network interface.
func defaultVMConfig() fcapi.VirtualMachineConfig {
	return fcapi.VirtualMachineConfig{
		Logger: &fcapi.Logger{
			LogPath:       "/log/firecracker.log",
			Level:         fcapi.LogInfo,
			ShowLevel:     true,
			ShowLogOrigin: true,
		},
		BootSource: fcapi.BootSource{
			KernelImagePath: "/kernel.bin",
			BootArgs:        firecracker.String("console=ttyS0 reboot=k panic=1 pci=off random.trust_cpu=on IP_ADDRESS::172.16.0.2 IFACE::eth0 GATEWAY::172.16.0.1"),
		},
		Drives: []fcapi.Drive{
			{
				DriveID:      "rootfs",
				IsRootDevice: true,
				CacheType:    fcapi.CacheUnsafe,
				IoEngine:     fcapi.IoSync,
				IsReadOnly:   firecracker.Bool(false),
				PathOnHost:   "/drives/rootfs.ext4",
			},
		},
		NetworkInterfaces: []fcapi.NetworkInterface{
			{
				HostDevName: "tap0",
				IfaceID:     "eth0",
				GuestMac:    firecracker.String("06:00:AC:10:00:02"),
			},
		},
	}
}

// resolveCodeDriveSource resolves a code-drive Location (or the configured
// dummy drive path when none is given) to a local host path that exists.
func resolveCodeDriveSource(loc *Location, dummyDrivePath string) (string, error) {
	if loc == nil {
		return dummyDrivePath, nil
	}

	switch loc.Type {
	case LocationLocal:
		if _, err := os.Stat(loc.Path); err != nil {
			return "", fmt.Errorf("code drive path %q does not exist: %w", loc.Path, err)
		}
		return loc.Path, nil
	case LocationCloudStorage:
		return "", notImplementedCloudStorage()
	default:
		return "", fmt.Errorf("unknown code drive location type %q", loc.Type)
	}
}
