package names

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/ValentinKolb/dPort/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("names")

// Table is an in-process name service. Ports opened in the same process
// find each other through the Default table; further entries can be loaded
// from a static description with ParseTable.
type Table struct {
	entries *xsync.MapOf[string, common.Address]
}

var (
	defaultTable     *Table
	defaultTableOnce sync.Once
)

// Default returns the process wide table
func Default() *Table {
	defaultTableOnce.Do(func() {
		defaultTable = NewTable()
	})
	return defaultTable
}

// NewTable creates an empty table
func NewTable() *Table {
	return &Table{entries: xsync.NewMapOf[string, common.Address]()}
}

// ParseTable creates a table from entries of the form
// "/name=carrier://host:port", separated by commas or whitespace
func ParseTable(spec string) (*Table, error) {
	t := NewTable()
	return t, t.Load(spec)
}

// Load adds the entries of a static description to the table
func (t *Table) Load(spec string) error {
	fields := strings.FieldsFunc(spec, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
	for _, field := range fields {
		name, contact, found := strings.Cut(field, "=")
		if !found || name == "" {
			return common.NewError(common.CodeAddress, nil, "malformed name entry %q (expected /name=carrier://host:port)", field)
		}
		addr, err := common.ParseContact(contact)
		if err != nil {
			return err
		}
		if _, err := t.Register(name, addr); err != nil {
			return err
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see INameService)
// --------------------------------------------------------------------------

func (t *Table) Resolve(_ context.Context, name string) (common.Address, error) {
	if common.IsContact(name) {
		return common.ParseContact(name)
	}
	addr, ok := t.entries.Load(name)
	if !ok {
		return common.Address{}, common.NewError(common.CodeAddress, nil, "name %q is not registered", name)
	}
	return addr, nil
}

func (t *Table) Register(name string, addr common.Address) (common.Address, error) {
	if name == "" {
		return common.Address{}, common.NewError(common.CodeAddress, nil, "cannot register an empty name")
	}
	if !addr.Valid() {
		return common.Address{}, common.NewError(common.CodeAddress, nil, "cannot register %q at invalid address %s", name, addr)
	}
	addr = addr.WithName(name)
	if prev, loaded := t.entries.LoadAndStore(name, addr); loaded && prev != addr {
		Logger.Infof("name %s moved from %s to %s", name, prev.Contact(), addr.Contact())
	} else {
		Logger.Debugf("registered %s", addr)
	}
	return addr, nil
}

func (t *Table) Unregister(name string) error {
	if _, loaded := t.entries.LoadAndDelete(name); loaded {
		Logger.Debugf("unregistered %s", name)
	}
	return nil
}

func (t *Table) List() []common.Address {
	var addrs []common.Address
	t.entries.Range(func(_ string, addr common.Address) bool {
		addrs = append(addrs, addr)
		return true
	})
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Name < addrs[j].Name })
	return addrs
}
