package carrier

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ValentinKolb/dPort/rpc/common"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/puzpuzpuz/xsync/v3"
)

// delegateCaps is shared by all byte transforming delegates
var delegateCaps = Capabilities{ModifiesIncoming: true, ModifiesOutgoing: true}

// --------------------------------------------------------------------------
// zstd
// --------------------------------------------------------------------------

// zstdDelegate compresses payloads with zstandard. The encoder is created on
// first use and shared. Decoders are shared per payload limit, each one
// refuses to decode more than its limit. EncodeAll and DecodeAll are safe
// for concurrent use.
type zstdDelegate struct {
	once     sync.Once
	encoder  *zstd.Encoder
	initErr  error
	decoders *xsync.MapOf[int, *zstd.Decoder]
}

// NewZstdDelegate creates the zstd delegate carrier
func NewZstdDelegate() IDelegate {
	return &zstdDelegate{decoders: xsync.NewMapOf[int, *zstd.Decoder]()}
}

func (d *zstdDelegate) init() error {
	d.once.Do(func() {
		// concurrency 1 keeps the codecs free of background goroutines
		d.encoder, d.initErr = zstd.NewWriter(nil,
			zstd.WithEncoderConcurrency(1),
			zstd.WithEncoderLevel(zstd.SpeedFastest))
	})
	return d.initErr
}

// decoder returns the decoder whose output is bounded by limit
func (d *zstdDelegate) decoder(limit int) (*zstd.Decoder, error) {
	if limit <= 0 {
		limit = common.DefaultMaxPayloadBytes
	}
	var err error
	dec, _ := d.decoders.LoadOrCompute(limit, func() *zstd.Decoder {
		var created *zstd.Decoder
		created, err = zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(uint64(limit)))
		return created
	})
	if dec == nil {
		// a failed decoder is not kept, the next call tries again
		d.decoders.Delete(limit)
		if err == nil {
			err = fmt.Errorf("zstd decoder for limit %d unavailable", limit)
		}
		return nil, err
	}
	return dec, nil
}

func (d *zstdDelegate) Name() string {
	return "zstd"
}

func (d *zstdDelegate) Fingerprint() []byte {
	return nil
}

func (d *zstdDelegate) Capabilities() Capabilities {
	return delegateCaps
}

func (d *zstdDelegate) Encode(data []byte) ([]byte, error) {
	if err := d.init(); err != nil {
		return nil, err
	}
	return d.encoder.EncodeAll(data, make([]byte, 0, len(data)/2+16)), nil
}

func (d *zstdDelegate) Decode(data []byte, limit int) ([]byte, error) {
	dec, err := d.decoder(limit)
	if err != nil {
		return nil, err
	}
	out, err := dec.DecodeAll(data, nil)
	if errors.Is(err, zstd.ErrDecoderSizeExceeded) || errors.Is(err, zstd.ErrWindowSizeExceeded) {
		return nil, fmt.Errorf("%w: decoded frame exceeds %d bytes", ErrPayloadTooLarge, limit)
	}
	if err != nil {
		return nil, err
	}
	if len(out) > limit {
		return nil, fmt.Errorf("%w: decoded %d > %d bytes", ErrPayloadTooLarge, len(out), limit)
	}
	return out, nil
}

// --------------------------------------------------------------------------
// snappy
// --------------------------------------------------------------------------

// snappyDelegate compresses payloads with snappy block encoding
type snappyDelegate struct{}

// NewSnappyDelegate creates the snappy delegate carrier
func NewSnappyDelegate() IDelegate {
	return &snappyDelegate{}
}

func (d *snappyDelegate) Name() string {
	return "snappy"
}

func (d *snappyDelegate) Fingerprint() []byte {
	return nil
}

func (d *snappyDelegate) Capabilities() Capabilities {
	return delegateCaps
}

func (d *snappyDelegate) Encode(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (d *snappyDelegate) Decode(data []byte, limit int) ([]byte, error) {
	n, err := snappy.DecodedLen(data)
	if err != nil {
		return nil, err
	}
	if n > limit {
		return nil, fmt.Errorf("%w: decoded %d > %d bytes", ErrPayloadTooLarge, n, limit)
	}
	return snappy.Decode(nil, data)
}
