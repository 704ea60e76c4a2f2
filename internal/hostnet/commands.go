// Package hostnet provisions and tears down the per-sandbox network
// namespace, veth pair, tap devices, and NAT rules on the host. Every
// mutation is modeled as a tagged command value before it becomes an
// exec.Command argv, so the exact argv a scenario produces can be asserted
// without running anything.
package hostnet

// IPCommand is a tagged "ip" subcommand. Argv returns the full argument
// list, "ip" itself included as argv[0].
type IPCommand struct {
	argv []string
}

func (c IPCommand) Argv() []string { return c.argv }

func DeleteDevice(device string) IPCommand {
	return IPCommand{argv: []string{"ip", "link", "del", device}}
}

func CreateTapDevice(device string) IPCommand {
	return IPCommand{argv: []string{"ip", "tuntap", "add", "dev", device, "mode", "tap"}}
}

func AddAddress(cidrBlock, device string) IPCommand {
	return IPCommand{argv: []string{"ip", "addr", "add", cidrBlock, "dev", device}}
}

func Activate(device string) IPCommand {
	return IPCommand{argv: []string{"ip", "link", "set", "dev", device, "up"}}
}

func CreateVethPair(veth, vpeer string) IPCommand {
	return IPCommand{argv: []string{"ip", "link", "add", vpeer, "type", "veth", "peer", "name", veth}}
}

func MoveIntoNamespace(device, namespace string) IPCommand {
	return IPCommand{argv: []string{"ip", "link", "set", device, "netns", namespace}}
}

func AddDefaultRoute(via string) IPCommand {
	return IPCommand{argv: []string{"ip", "route", "add", "default", "via", via}}
}

func AddRoute(to, via string) IPCommand {
	return IPCommand{argv: []string{"ip", "route", "add", to, "via", via}}
}

func CreateNamespace(namespace string) IPCommand {
	return IPCommand{argv: []string{"ip", "netns", "add", namespace}}
}

func DeleteNamespace(namespace string) IPCommand {
	return IPCommand{argv: []string{"ip", "netns", "del", namespace}}
}

// InNamespace wraps a command to run inside a network namespace via
// "ip netns exec <ns> <argv...>".
func InNamespace(namespace string, cmd IPCommand) IPCommand {
	argv := append([]string{"ip", "netns", "exec", namespace}, cmd.argv...)
	return IPCommand{argv: argv}
}

// Table names the iptables table or chain a rule targets. TableFilter
// holds the FORWARD chain name (of the default filter table); TableNAT
// holds the nat table name.
type Table string

const (
	TableFilter Table = "FORWARD"
	TableNAT    Table = "nat"
)

// Target is an iptables jump target.
type Target string

const (
	TargetAccept     Target = "ACCEPT"
	TargetMasquerade Target = "MASQUERADE"
	TargetSNAT       Target = "SNAT"
	TargetDNAT       Target = "DNAT"
)

// IPTablesCommand is a tagged "iptables" subcommand.
type IPTablesCommand struct {
	argv []string
}

func (c IPTablesCommand) Argv() []string { return c.argv }

// AddForwardRule inserts a FORWARD ACCEPT rule at position 1, matching
// `iptables -I FORWARD 1 -i <input> -o <output> -j ACCEPT`.
func AddForwardRule(input, output string) IPTablesCommand {
	return IPTablesCommand{argv: []string{
		"iptables", "-I", string(TableFilter), "1",
		"-i", input, "-o", output, "-j", string(TargetAccept),
	}}
}

// DeleteForwardRule removes a previously added FORWARD ACCEPT rule.
func DeleteForwardRule(input, output string) IPTablesCommand {
	return IPTablesCommand{argv: []string{
		"iptables", "-D", string(TableFilter),
		"-i", input, "-o", output, "-j", string(TargetAccept),
	}}
}

// AddMasquerade appends a nat POSTROUTING MASQUERADE rule on outDevice,
// optionally restricted to a source CIDR/address.
func AddMasquerade(outDevice, source string) IPTablesCommand {
	argv := []string{"iptables", "-t", "nat", "-A", "POSTROUTING"}
	if source != "" {
		argv = append(argv, "-s", source)
	}
	argv = append(argv, "-o", outDevice, "-j", string(TargetMasquerade))
	return IPTablesCommand{argv: argv}
}

// DeleteMasquerade removes a nat POSTROUTING MASQUERADE rule on outDevice.
func DeleteMasquerade(outDevice, source string) IPTablesCommand {
	argv := []string{"iptables", "-t", "nat", "-D", "POSTROUTING"}
	if source != "" {
		argv = append(argv, "-s", source)
	}
	argv = append(argv, "-o", outDevice, "-j", string(TargetMasquerade))
	return IPTablesCommand{argv: argv}
}

// AddSNAT appends `iptables -t nat -A POSTROUTING -o <dev> -s <src> -j SNAT --to <to>`.
func AddSNAT(device, source, to string) IPTablesCommand {
	return IPTablesCommand{argv: []string{
		"iptables", "-t", "nat", "-A", "POSTROUTING",
		"-o", device, "-s", source, "-j", string(TargetSNAT), "--to", to,
	}}
}

// AddDNAT appends `iptables -t nat -A PREROUTING -i <dev> -d <dst> -j DNAT --to <to>`.
func AddDNAT(device, destination, to string) IPTablesCommand {
	return IPTablesCommand{argv: []string{
		"iptables", "-t", "nat", "-A", "PREROUTING",
		"-i", device, "-d", destination, "-j", string(TargetDNAT), "--to", to,
	}}
}
