package common

import (
	"github.com/ValentinKolb/dPort/lib/bottle"
)

// --------------------------------------------------------------------------
// Message Kind Definition
// --------------------------------------------------------------------------

// MessageKind tags every frame on a connection. The values are vocab codes
// so they are readable in a hex dump of the stream.
type MessageKind = bottle.Vocab

var (
	KindData  = bottle.EncodeVocab("data") // one way message
	KindRPC   = bottle.EncodeVocab("rpc")  // message that expects a reply
	KindAdmin = bottle.EncodeVocab("adm")  // administrative command, answered by the port itself
	KindReply = bottle.EncodeVocab("repl") // reply to an rpc or admin message
	KindAck   = bottle.EncodeVocab("ack")  // acknowledgement
)

// WantsReply reports whether a message of this kind must be answered
func WantsReply(kind MessageKind) bool {
	return kind == KindRPC || kind == KindAdmin
}

// --------------------------------------------------------------------------
// Administrative Commands
// --------------------------------------------------------------------------

// Administrative command codes, the first element of an admin bottle
var (
	AdminHelp = bottle.EncodeVocab("help")
	AdminVer  = bottle.EncodeVocab("ver")
	AdminList = bottle.EncodeVocab("list")
	AdminAdd  = bottle.EncodeVocab("add")
	AdminDel  = bottle.EncodeVocab("del")

	AdminOk   = bottle.EncodeVocab("ok")
	AdminFail = bottle.EncodeVocab("fail")
)

// Protocol version reported by [ver]
const (
	VersionMajor = 1
	VersionMinor = 0
	VersionPatch = 0
)

// NewHelpRequest creates a new [help] request
func NewHelpRequest() *bottle.Bottle {
	return bottle.New(bottle.VocabValue(AdminHelp))
}

// NewVerRequest creates a new [ver] request
func NewVerRequest() *bottle.Bottle {
	return bottle.New(bottle.VocabValue(AdminVer))
}

// NewVerResponse creates a new [ver] response
func NewVerResponse() *bottle.Bottle {
	return bottle.New(bottle.VocabValue(AdminVer),
		bottle.Int32(VersionMajor), bottle.Int32(VersionMinor), bottle.Int32(VersionPatch))
}

// NewListRequest creates a new [list] request
func NewListRequest() *bottle.Bottle {
	return bottle.New(bottle.VocabValue(AdminList))
}

// NewAddRequest creates a new [add] request. carrier may be empty.
func NewAddRequest(dest, carrier string) *bottle.Bottle {
	b := bottle.New(bottle.VocabValue(AdminAdd), bottle.String(dest))
	if carrier != "" {
		b.AddString(carrier)
	}
	return b
}

// NewDelRequest creates a new [del] request
func NewDelRequest(dest string) *bottle.Bottle {
	return bottle.New(bottle.VocabValue(AdminDel), bottle.String(dest))
}

// NewOkResponse creates a new [ok] response followed by the given values
func NewOkResponse(values ...bottle.Value) *bottle.Bottle {
	b := bottle.New(bottle.VocabValue(AdminOk))
	for _, v := range values {
		b.Add(v)
	}
	return b
}

// NewFailResponse creates a new [fail] response
func NewFailResponse(err error) *bottle.Bottle {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	return bottle.New(bottle.VocabValue(AdminFail), bottle.String(reason))
}

// IsOkResponse reports whether b starts with [ok]
func IsOkResponse(b *bottle.Bottle) bool {
	return b.Get(0).IsVocab() && b.Get(0).AsVocab() == AdminOk
}

// AdminCommand returns the command code of an admin bottle and its arguments.
// The command code may also be given as a plain string ("list" or "[list]" as text).
func AdminCommand(b *bottle.Bottle) (bottle.Vocab, *bottle.Bottle) {
	head := b.Get(0)
	switch {
	case head.IsVocab():
		return head.AsVocab(), b.Tail()
	case head.IsString() && len(head.AsString()) <= 4:
		return bottle.EncodeVocab(head.AsString()), b.Tail()
	default:
		return 0, b.Tail()
	}
}
