// Package ids allocates the identifiers and address blocks every sandbox
// is keyed by: a short filesystem/tmux-safe nanoid and a disjoint 4-IP
// address block carved out of 10.200.0.0/16.
package ids

import (
	"fmt"
	"math/rand"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// GroupsInLastBlock is the number of address blocks sharing a third
	// octet before it rolls over.
	GroupsInLastBlock = 60
	// MaxBlock is the largest valid address-block index.
	MaxBlock = 15299

	idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	idLength   = 9
)

// AddressBlock is a disjoint group of four IPs in 10.200.0.0/16 assigned to
// a single sandbox: k=0 veth host leg, k=1 veth peer, k=2 guest NAT-visible
// IP, k=3 reserved.
type AddressBlock struct {
	index int
}

// NewAddressBlock derives the address block for a given index. index must
// be in [0, MaxBlock]; values outside that range still compute but are not
// guaranteed disjoint from other blocks.
func NewAddressBlock(index int) AddressBlock {
	return AddressBlock{index: index}
}

func (b AddressBlock) block3() int {
	return b.index / GroupsInLastBlock
}

func (b AddressBlock) block4Base() int {
	return (b.index%GroupsInLastBlock)*4 + 1
}

// IP returns the dotted-quad address for role k (0..3).
func (b AddressBlock) IP(k int) string {
	return fmt.Sprintf("10.200.%d.%d", b.block3(), b.block4Base()+k)
}

// VmIdentifier is the immutable pair a sandbox is created with: a
// filesystem/tmux-safe id and the address block index it owns.
type VmIdentifier struct {
	ID               string
	AddressBlockIndex int
}

// AddressBlock returns the identifier's derived address block.
func (v VmIdentifier) AddressBlock() AddressBlock {
	return NewAddressBlock(v.AddressBlockIndex)
}

// Allocator hands out VmIdentifiers. Production uses RandomAllocator;
// tests substitute a deterministic counter so assertions on ip(k) values
// are stable.
type Allocator interface {
	Allocate() (VmIdentifier, error)
}

// RandomAllocator draws a 9-character nanoid and a uniformly random
// address-block index in [0, MaxBlock], matching the statistical
// collision behavior the coordinator is documented to tolerate: a
// collision surfaces as a network-setup failure, not here.
type RandomAllocator struct{}

func (RandomAllocator) Allocate() (VmIdentifier, error) {
	id, err := gonanoid.Generate(idAlphabet, idLength)
	if err != nil {
		return VmIdentifier{}, fmt.Errorf("failed to generate id: %w", err)
	}
	return VmIdentifier{
		ID:                id,
		AddressBlockIndex: rand.Intn(MaxBlock + 1),
	}, nil
}

// CounterAllocator hands out a monotonically increasing address-block
// index starting from a configured base, and either a fixed id sequence or
// freshly generated nanoids. Tests use this so ip(k) assertions on
// successive allocations are deterministic.
type CounterAllocator struct {
	next int
	ids  []string
}

// NewCounterAllocator returns an allocator whose first Allocate() call
// yields address-block index startAt. If ids is non-empty, identifiers are
// drawn from it in order; once they are used up, and when ids is empty,
// ids are freshly generated nanoids.
func NewCounterAllocator(startAt int, ids ...string) *CounterAllocator {
	return &CounterAllocator{next: startAt, ids: ids}
}

func (c *CounterAllocator) Allocate() (VmIdentifier, error) {
	var id string
	if len(c.ids) > 0 {
		id, c.ids = c.ids[0], c.ids[1:]
	} else {
		generated, err := gonanoid.Generate(idAlphabet, idLength)
		if err != nil {
			return VmIdentifier{}, fmt.Errorf("failed to generate id: %w", err)
		}
		id = generated
	}

	index := c.next
	c.next++
	return VmIdentifier{ID: id, AddressBlockIndex: index}, nil
}
