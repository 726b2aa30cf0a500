package core

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/dPort/lib/bottle"
	"github.com/ValentinKolb/dPort/rpc/common"
)

// adminConnectTimeout bounds an [add] if the port has no timeout configured
const adminConnectTimeout = 10 * time.Second

var adminHelpText = []string{
	"[help]                  this text",
	"[ver]                   protocol version",
	"[list]                  one (direction from to carrier) per connection",
	"[add] <dest> [carrier]  add an output to dest",
	"[del] <dest>            remove the outputs to dest",
}

// handleAdmin answers an administrative command that arrived on unit u
func (c *Core) handleAdmin(u *unit, cmd *bottle.Bottle) *bottle.Bottle {
	c.metrics.received.Inc()

	code, args := common.AdminCommand(cmd)
	Logger.Debugf("admin %s from %s", cmd, u.route.From)

	switch code {
	case common.AdminHelp:
		reply := bottle.New()
		for _, line := range adminHelpText {
			reply.AddString(line)
		}
		return reply

	case common.AdminVer:
		return common.NewVerResponse()

	case common.AdminList:
		return c.adminList()

	case common.AdminAdd:
		return c.adminAdd(args)

	case common.AdminDel:
		if args.Size() < 1 || !args.Get(0).IsString() {
			return common.NewFailResponse(fmt.Errorf("usage: [del] <dest>"))
		}
		pattern := common.NewRoute(c.config.Name, args.Get(0).AsString(), common.Wildcard)
		n := c.removeUnits(pattern, true, u)
		return common.NewOkResponse(bottle.Int32(int32(n)))

	default:
		return common.NewFailResponse(fmt.Errorf("unknown command %s, try [help]", cmd))
	}
}

func (c *Core) adminList() *bottle.Bottle {
	reply := bottle.New()
	for _, ur := range c.Describe().Units {
		entry := reply.AddList()
		entry.AddString(ur.Direction.String())
		entry.AddString(ur.Route.From)
		entry.AddString(ur.Route.To)
		entry.AddString(ur.Route.Carrier)
	}
	return reply
}

func (c *Core) adminAdd(args *bottle.Bottle) *bottle.Bottle {
	if args.Size() < 1 || !args.Get(0).IsString() {
		return common.NewFailResponse(fmt.Errorf("usage: [add] <dest> [carrier]"))
	}
	opts := common.ConnectOptions{}
	if args.Size() > 1 {
		opts.Carrier = args.Get(1).AsString()
	}

	timeout := c.config.Timeout
	if timeout <= 0 {
		timeout = adminConnectTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := c.AddOutput(ctx, args.Get(0).AsString(), opts); err != nil {
		return common.NewFailResponse(err)
	}
	return common.NewOkResponse()
}
