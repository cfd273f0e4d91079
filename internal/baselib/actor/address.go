package actor

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Address is an opaque, process-wide identifier for anything reachable
// through an AddressBook: a local actor, a supervisor group, or a remote
// proxy. Addresses are never reused for the lifetime of the process they
// were reserved on.
type Address uint64

// NullAddress is the distinguished invalid address. It is never returned by
// Reserve and never resolves to a live entry.
const NullAddress Address = 0

// nodeShift places a node number in the high bits of a remote address, so a
// local AddressBook lookup against a remote address fails fast instead of
// colliding with a local one (see spec's remote-address-prefix rule).
const nodeShift = 48

// RemoteAddress builds the address a local process uses to refer to an
// address that lives on node nodeNo. Looking one of these up in a local
// AddressBook always misses, by construction.
func RemoteAddress(nodeNo uint16, local Address) Address {
	return Address(uint64(nodeNo)<<nodeShift) | (local & ((1 << nodeShift) - 1))
}

// NodeOf extracts the node number prefix from an address built by
// RemoteAddress. A zero result means the address is local.
func (a Address) NodeOf() uint16 {
	return uint16(uint64(a) >> nodeShift)
}

// IsLocal reports whether the address carries no remote node prefix.
func (a Address) IsLocal() bool {
	return a.NodeOf() == 0
}

// String implements fmt.Stringer for logging and router key display.
func (a Address) String() string {
	return fmt.Sprintf("addr(%d)", uint64(a))
}

// AddressBookEntry is anything the AddressBook can hold: a local actor
// object, a supervisor group, or a remote proxy.
type AddressBookEntry interface {
	// Address is the entry's own reserved address.
	Address() Address
}

// addressAllocator hands out monotonically increasing local addresses. It is
// shared by every AddressBook in the process so no two books can collide.
var addressAllocator atomic.Uint64

// AddressBook is the process-wide directory mapping addresses to live
// objects. It provides atomic reservation of an address before the object
// behind it has finished spawning (I4: the book never resolves an address
// that was never reserved), and strongly owns every entry it holds.
type AddressBook struct {
	entries sync.Map // Address -> AddressBookEntry
}

// NewAddressBook creates an empty AddressBook.
func NewAddressBook() *AddressBook {
	return &AddressBook{}
}

// Reserve allocates a fresh address with no entry installed yet. Callers
// must follow up with Install once the object behind the address is ready,
// or the address is simply left dangling (Get will never resolve it).
func (b *AddressBook) Reserve() Address {
	return Address(addressAllocator.Add(1))
}

// Install binds an entry to a previously reserved address, making it visible
// to Get. It is the caller's responsibility to only call Install once per
// address.
func (b *AddressBook) Install(addr Address, entry AddressBookEntry) {
	b.entries.Store(addr, entry)
}

// Get resolves an address to its entry. It returns false for an address that
// was never reserved, was only reserved but never installed, or has since
// been removed.
func (b *AddressBook) Get(addr Address) (AddressBookEntry, bool) {
	if addr == NullAddress {
		return nil, false
	}

	v, ok := b.entries.Load(addr)
	if !ok {
		return nil, false
	}

	return v.(AddressBookEntry), true
}

// Remove evicts an entry from the book, e.g. once its actor has terminated.
func (b *AddressBook) Remove(addr Address) {
	b.entries.Delete(addr)
}
