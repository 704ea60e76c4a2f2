package hostnet

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/matchbox-labs/sandboxd/internal/ids"
	"github.com/matchbox-labs/sandboxd/internal/sandboxerr"
)

const (
	// HostInterfaceName is the default host-facing interface used for the
	// outer MASQUERADE/FORWARD rules.
	HostInterfaceName = "ens4"
	// DefaultCIDRBlock is the shared CIDR assigned to every tap device
	// inside a sandbox's namespace.
	DefaultCIDRBlock = "172.16.0.1/30"
)

// Runner executes a host command and reports stdout/stderr/error. The
// production Runner shells out with os/exec; tests substitute a fake that
// records argv without running anything.
type Runner interface {
	Run(ctx context.Context, argv []string) (stdout, stderr string, err error)
}

// ExecRunner runs argv as a real subprocess via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, argv []string) (string, string, error) {
	if len(argv) == 0 {
		return "", "", fmt.Errorf("empty argv")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// NetworkInterfaceSpec is the subset of a VirtualMachineConfig network
// interface that the host-side tap setup needs.
type NetworkInterfaceSpec struct {
	HostDevName string
}

// Network is the per-sandbox host-side network state: a namespace, a veth
// pair, and the NAT/forwarding rules that make the sandbox reachable at
// ip(2). It is constructed only on full success of Provision, and is torn
// down, best-effort, by Teardown.
type Network struct {
	ID           string
	AddressBlock ids.AddressBlock
	runner       Runner
	hostIface    string
}

// Orphaned reconstructs a Network value for an id whose live Network was
// lost (e.g. the orchestrator process restarted): enough to call Teardown
// on resources that Provision is known to have created, given only the id,
// its AddressBlock, and the host interface it was provisioned against.
func Orphaned(id string, block ids.AddressBlock, hostIface string, runner Runner) *Network {
	if hostIface == "" {
		hostIface = HostInterfaceName
	}
	return &Network{ID: id, AddressBlock: block, runner: runner, hostIface: hostIface}
}

func vethName(id string) string  { return id + "-veth" }
func vpeerName(id string) string { return id + "-vpeer" }

// Provision brings up the full per-VM network layout described in the
// host network provisioner design: namespace, veth pair, NAT rules, and a
// tap device per interface. On any failure it unwinds everything it has
// set up so far and returns the first error.
func Provision(ctx context.Context, id string, block ids.AddressBlock, interfaces []NetworkInterfaceSpec, hostIface string, runner Runner) (*Network, error) {
	if hostIface == "" {
		hostIface = HostInterfaceName
	}

	n := &Network{ID: id, AddressBlock: block, runner: runner, hostIface: hostIface}
	applied := newUnwindStack()

	run := func(argv []string) error {
		stdout, stderr, err := runner.Run(ctx, argv)
		if err != nil {
			return sandboxerr.HostCommand(argv, stdout, stderr, err)
		}
		return nil
	}

	fail := func(err error) (*Network, error) {
		applied.unwind(ctx, runner)
		return nil, err
	}

	veth, vpeer := vethName(id), vpeerName(id)
	ip0, ip1, ip2 := block.IP(0), block.IP(1), block.IP(2)

	// 1. Create netns <id>.
	if err := run(CreateNamespace(id).Argv()); err != nil {
		return fail(err)
	}
	applied.push(DeleteNamespace(id).Argv())

	// 2. Create veth pair <id>-veth <id>-vpeer.
	if err := run(CreateVethPair(veth, vpeer).Argv()); err != nil {
		return fail(err)
	}
	applied.push(DeleteDevice(veth).Argv())

	// 3. Assign ip(0)/29 to <id>-veth; bring it up.
	if err := run(AddAddress(ip0+"/29", veth).Argv()); err != nil {
		return fail(err)
	}
	if err := run(Activate(veth).Argv()); err != nil {
		return fail(err)
	}

	// 4. Move <id>-vpeer into netns <id>.
	if err := run(MoveIntoNamespace(vpeer, id).Argv()); err != nil {
		return fail(err)
	}

	// 5. Inside the netns.
	if err := run(InNamespace(id, AddAddress(ip1+"/29", vpeer)).Argv()); err != nil {
		return fail(err)
	}
	if err := run(InNamespace(id, Activate(vpeer)).Argv()); err != nil {
		return fail(err)
	}
	if err := run(InNamespace(id, Activate("lo")).Argv()); err != nil {
		return fail(err)
	}
	if err := run(InNamespace(id, AddDefaultRoute(ip0)).Argv()); err != nil {
		return fail(err)
	}
	if err := run(InNamespace(id, IPCommand{argv: []string{"iptables", "-t", "nat", "-A", "POSTROUTING", "-o", vpeer, "-j", string(TargetMasquerade)}}).Argv()); err != nil {
		return fail(err)
	}
	if err := run(InNamespace(id, IPCommand{argv: AddSNAT(vpeer, "172.16.0.2", ip2).Argv()}).Argv()); err != nil {
		return fail(err)
	}
	if err := run(InNamespace(id, IPCommand{argv: AddDNAT(vpeer, ip2, "172.16.0.2").Argv()}).Argv()); err != nil {
		return fail(err)
	}
	for _, iface := range interfaces {
		if err := setupTap(ctx, id, iface.HostDevName, vpeer, run); err != nil {
			return fail(err)
		}
		applied.push(DeleteDevice(iface.HostDevName).Argv())
	}

	// 6. In the root netns: add route to ip(2) via ip(1).
	if err := run(AddRoute(ip2, ip1).Argv()); err != nil {
		return fail(err)
	}

	// 7. iptables -t nat -A POSTROUTING -s ip(1)/29 -o <HOST_IFACE> -j MASQUERADE.
	if err := run(AddMasquerade(hostIface, ip1+"/29").Argv()); err != nil {
		return fail(err)
	}
	applied.push(DeleteMasquerade(hostIface, ip1+"/29").Argv())

	// 8. FORWARD ACCEPTs, both directions.
	if err := run(AddForwardRule(veth, hostIface).Argv()); err != nil {
		return fail(err)
	}
	applied.push(DeleteForwardRule(veth, hostIface).Argv())

	if err := run(AddForwardRule(hostIface, veth).Argv()); err != nil {
		return fail(err)
	}
	applied.push(DeleteForwardRule(hostIface, veth).Argv())

	return n, nil
}

// setupTap installs a tap device inside the namespace for one network
// interface, per the tap sub-procedure.
func setupTap(ctx context.Context, nsID, hostDevName, vpeer string, run func([]string) error) error {
	if err := run(InNamespace(nsID, CreateTapDevice(hostDevName)).Argv()); err != nil {
		return err
	}
	if err := run(InNamespace(nsID, AddAddress(DefaultCIDRBlock, hostDevName)).Argv()); err != nil {
		return err
	}
	if err := run(InNamespace(nsID, Activate(hostDevName)).Argv()); err != nil {
		return err
	}
	if err := run(InNamespace(nsID, IPCommand{argv: AddForwardRule(hostDevName, vpeer).Argv()}).Argv()); err != nil {
		return err
	}
	return nil
}

// Teardown removes the namespace, the host-side veth, and the rules this
// Network's Provision installed on the root netns. Each step is
// best-effort and logged on failure; one failing step never prevents the
// others from running.
func (n *Network) Teardown(ctx context.Context, logf func(format string, args ...interface{})) {
	veth := vethName(n.ID)
	ip1 := n.AddressBlock.IP(1)

	steps := [][]string{
		DeleteNamespace(n.ID).Argv(),
		DeleteDevice(veth).Argv(),
		DeleteForwardRule(veth, n.hostIface).Argv(),
		DeleteForwardRule(n.hostIface, veth).Argv(),
		DeleteMasquerade(n.hostIface, ip1+"/29").Argv(),
	}

	for _, argv := range steps {
		if _, stderr, err := n.runner.Run(ctx, argv); err != nil && logf != nil {
			logf("hostnet teardown step failed: argv=%v stderr=%q err=%v", argv, stderr, err)
		}
	}
}

// unwindStack records the teardown argvs for steps already applied during
// a Provision call so a mid-setup failure can be unwound the same way a
// normal Teardown would.
type unwindStack struct {
	steps [][]string
}

func newUnwindStack() *unwindStack { return &unwindStack{} }

func (s *unwindStack) push(argv []string) { s.steps = append(s.steps, argv) }

func (s *unwindStack) unwind(ctx context.Context, runner Runner) {
	// Cleanup still runs when ctx was cancelled mid-setup.
	ctx = context.WithoutCancel(ctx)
	for i := len(s.steps) - 1; i >= 0; i-- {
		runner.Run(ctx, s.steps[i])
	}
}
