package hostnet

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/matchbox-labs/sandboxd/internal/ids"
)

// fakeRunner records every argv it is asked to run, and can be configured
// to fail on a specific argv prefix.
type fakeRunner struct {
	calls    [][]string
	failWhen func(argv []string) bool
}

func (f *fakeRunner) Run(ctx context.Context, argv []string) (string, string, error) {
	f.calls = append(f.calls, append([]string{}, argv...))
	if f.failWhen != nil && f.failWhen(argv) {
		return "", "boom", errors.New("command failed")
	}
	return "", "", nil
}

func argvString(argv []string) string { return strings.Join(argv, " ") }

func TestProvisionHappyPathOrder(t *testing.T) {
	runner := &fakeRunner{}
	block := ids.NewAddressBlock(0)

	net, err := Provision(context.Background(), "abc123xyz", block, []NetworkInterfaceSpec{{HostDevName: "tap0"}}, "ens4", runner)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if net == nil {
		t.Fatal("expected non-nil Network")
	}

	if len(runner.calls) == 0 {
		t.Fatal("expected commands to be run")
	}

	first := argvString(runner.calls[0])
	if first != "ip netns add abc123xyz" {
		t.Errorf("first command = %q, want 'ip netns add abc123xyz'", first)
	}

	second := argvString(runner.calls[1])
	if second != "ip link add abc123xyz-vpeer type veth peer name abc123xyz-veth" {
		t.Errorf("second command = %q, want veth pair creation", second)
	}

	foundTap := false
	for _, call := range runner.calls {
		if argvString(call) == "ip netns exec abc123xyz ip tuntap add dev tap0 mode tap" {
			foundTap = true
		}
	}
	if !foundTap {
		t.Errorf("expected a tap device creation command inside the namespace, calls=%v", runner.calls)
	}
}

func TestProvisionUnwindsOnMidSetupFailure(t *testing.T) {
	runner := &fakeRunner{
		failWhen: func(argv []string) bool {
			// Fail the veth-pair creation step (the second command).
			return argvString(argv) == "ip link add abc-vpeer type veth peer name abc-veth"
		},
	}
	block := ids.NewAddressBlock(1)

	_, err := Provision(context.Background(), "abc", block, nil, "ens4", runner)
	if err == nil {
		t.Fatal("expected an error from the failing step")
	}

	// The namespace created before the failing step must have been torn
	// down: last call should be the unwind for netns add.
	last := runner.calls[len(runner.calls)-1]
	if argvString(last) != "ip netns del abc" {
		t.Errorf("expected unwind to delete the namespace, last call = %v", last)
	}
}

func TestTeardownRunsAllStepsDespiteFailures(t *testing.T) {
	runner := &fakeRunner{
		failWhen: func(argv []string) bool {
			return argvString(argv) == "ip netns del abc"
		},
	}
	n := &Network{ID: "abc", AddressBlock: ids.NewAddressBlock(0), runner: runner, hostIface: "ens4"}

	var loggedFailures int
	n.Teardown(context.Background(), func(format string, args ...interface{}) {
		loggedFailures++
	})

	if loggedFailures != 1 {
		t.Errorf("expected exactly one logged failure, got %d", loggedFailures)
	}
	if len(runner.calls) != 5 {
		t.Errorf("expected all 5 teardown steps to run, got %d calls: %v", len(runner.calls), runner.calls)
	}
}
