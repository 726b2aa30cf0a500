package admin

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dPort/cmd/util"
	"github.com/ValentinKolb/dPort/lib/bottle"
	"github.com/ValentinKolb/dPort/rpc/common"
	"github.com/ValentinKolb/dPort/rpc/port"
	"github.com/jedib0t/go-pretty/table"
)

// send delivers one administrative command to the port target through a
// short-lived output-only port and returns the answer. A [fail] answer is
// returned as error.
func send(target string, cmd *bottle.Bottle) (*bottle.Bottle, error) {
	names, err := util.GetNames()
	if err != nil {
		return nil, err
	}
	config, err := util.GetPortConfig(util.AnonymousName("admin"), names, false)
	if err != nil {
		return nil, err
	}
	p, err := port.Open(config, port.Options{Names: names})
	if err != nil {
		return nil, err
	}
	defer p.Close()

	ctx, cancel := util.WithTimeout(context.Background())
	defer cancel()

	// admin commands need a carrier that carries replies
	if err := p.AddOutput(ctx, target, common.ConnectOptions{Carrier: common.DefaultCarrier}); err != nil {
		return nil, err
	}
	reply, err := p.Admin(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if reply.Get(0).IsVocab() && reply.Get(0).AsVocab() == common.AdminFail {
		return nil, fmt.Errorf("%s: %s", target, reply.Get(1).AsString())
	}
	return reply, nil
}

// renderUnits renders the answer to [list] as table
func renderUnits(reply *bottle.Bottle) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{
		"Direction",
		"From",
		"To",
		"Carrier",
	})

	for _, v := range reply.Values() {
		entry := v.AsList()
		if entry == nil || entry.Size() < 4 {
			continue
		}
		t.AppendRow(table.Row{
			entry.Get(0).AsString(),
			entry.Get(1).AsString(),
			entry.Get(2).AsString(),
			entry.Get(3).AsString(),
		})
	}

	return t.Render()
}
