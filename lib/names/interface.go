package names

import (
	"context"

	"github.com/ValentinKolb/dPort/rpc/common"
)

// INameService maps port names to network addresses
type INameService interface {

	// Resolve returns the address registered under name. Contact strings
	// ("tcp://host:port") resolve to themselves without a lookup.
	Resolve(ctx context.Context, name string) (common.Address, error)

	// Register publishes the address of a listening port under name and
	// returns the address as stored (with Name set).
	Register(name string, addr common.Address) (common.Address, error)

	// Unregister removes name. Unknown names are ignored.
	Unregister(name string) error

	// List returns all registered addresses
	List() []common.Address
}
