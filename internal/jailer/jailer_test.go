package jailer

import (
	"reflect"
	"testing"
)

func TestConfigArgv(t *testing.T) {
	cfg := Config{
		JailerPath:    "/j",
		ExecFile:      "/fc",
		ChrootBaseDir: "/c",
		ID:            "abc",
		NetnsPath:     "/n",
		Uid:           1000,
		Gid:           1000,
	}

	want := []string{"/j", "--id", "abc", "--exec-file", "/fc", "--gid", "1000", "--uid", "1000", "--chroot-base-dir", "/c", "--netns", "/n"}
	got := cfg.Argv()

	if !reflect.DeepEqual(got, want) {
		t.Errorf("Argv() = %v, want %v", got, want)
	}
}

func TestConfigRootDirectory(t *testing.T) {
	cfg := Config{
		ChrootBaseDir: "/tmp/vms",
		ExecFile:      "/usr/local/bin/firecracker",
		ID:            "xyz",
	}

	want := "/tmp/vms/firecracker/xyz/root"
	if got := cfg.RootDirectory(); got != want {
		t.Errorf("RootDirectory() = %q, want %q", got, want)
	}
}

func TestPathResolverResolve(t *testing.T) {
	resolver := PathResolver{RootDirectory: "/tmp/vms/firecracker/xyz/root"}

	cases := map[string]string{
		"/kernel.bin":            "/tmp/vms/firecracker/xyz/root/kernel.bin",
		"/run/firecracker.socket": "/tmp/vms/firecracker/xyz/root/run/firecracker.socket",
		"/log/firecracker.log":   "/tmp/vms/firecracker/xyz/root/log/firecracker.log",
	}

	for jailed, want := range cases {
		if got := resolver.Resolve(jailed); got != want {
			t.Errorf("Resolve(%q) = %q, want %q", jailed, got, want)
		}
	}
}
