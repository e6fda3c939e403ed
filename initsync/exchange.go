package initsync

import (
	"fmt"

	"github.com/klauspost/compress/s2"
	"github.com/vmihailenco/msgpack"

	"github.com/alpacahq/seriesdb/catalog"
)

const (
	wireVersion = 1
	flagS2      = 0x1
	flagMask    = 0x0f

	// definitionOverhead approximates the encoded size of a definition beyond its name.
	definitionOverhead = 16
)

// Request asks the peer for the definitions of database Database with an id of at least Cursor.
type Request struct {
	Database  string           `msgpack:"database"`
	Cursor    catalog.SeriesID `msgpack:"cursor"`
	MaxSeries int              `msgpack:"max_series"`
	MaxBytes  int              `msgpack:"max_bytes"`
}

// Response carries one batch of the peer's catalog in id order.
type Response struct {
	Series []catalog.Definition `msgpack:"series"`
	// Next is the cursor to use for the following request.
	Next catalog.SeriesID `msgpack:"next"`
	// Done is set when the batch reaches the end of the peer's catalog.
	Done bool `msgpack:"done"`
	// Highest is the highest series id allocated on the peer.
	Highest catalog.SeriesID `msgpack:"highest"`
}

func EncodeRequest(req Request) ([]byte, error) {
	return encode(req, -1)
}

func DecodeRequest(buf []byte) (Request, error) {
	var req Request
	if err := decode(buf, &req); err != nil {
		return Request{}, err
	}
	return req, nil
}

// EncodeResponse encodes resp and compresses it when the encoding is larger
// than compressThreshold bytes. A negative threshold disables compression.
func EncodeResponse(resp Response, compressThreshold int) ([]byte, error) {
	return encode(resp, compressThreshold)
}

func DecodeResponse(buf []byte) (Response, error) {
	var resp Response
	if err := decode(buf, &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}

func encode(v interface{}, compressThreshold int) ([]byte, error) {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	header := byte(wireVersion << 4)
	if compressThreshold >= 0 && len(body) > compressThreshold {
		body = s2.Encode(nil, body)
		header |= flagS2
	}
	return append([]byte{header}, body...), nil
}

func decode(buf []byte, v interface{}) error {
	if len(buf) == 0 {
		return fmt.Errorf("%w: empty message", ErrProtocolViolation)
	}
	header, body := buf[0], buf[1:]
	if version := header >> 4; version != wireVersion {
		return fmt.Errorf("%w: unsupported wire version %d", ErrProtocolViolation, version)
	}
	switch flags := header & flagMask; flags {
	case 0:
	case flagS2:
		var err error
		if body, err = s2.Decode(nil, body); err != nil {
			return fmt.Errorf("%w: decompress: %v", ErrProtocolViolation, err)
		}
	default:
		return fmt.Errorf("%w: unknown flags %#x", ErrProtocolViolation, flags)
	}
	if err := msgpack.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: decode %T: %v", ErrProtocolViolation, v, err)
	}
	return nil
}

// Validate checks resp against the request it answers.
func (resp Response) Validate(req Request) error {
	if resp.Next < req.Cursor {
		return fmt.Errorf("%w: next %d is behind cursor %d", ErrProtocolViolation, resp.Next, req.Cursor)
	}
	if !resp.Done && len(resp.Series) == 0 {
		return fmt.Errorf("%w: empty batch before the end of the catalog", ErrProtocolViolation)
	}
	prev := catalog.NoSeries
	for i, def := range resp.Series {
		switch {
		case def.ID < req.Cursor:
			return fmt.Errorf("%w: series %s is below cursor %d", ErrProtocolViolation, def, req.Cursor)
		case i > 0 && def.ID == prev:
			return fmt.Errorf("%w: series id %d sent twice", ErrProtocolViolation, def.ID)
		case i > 0 && def.ID < prev:
			return fmt.Errorf("%w: series %s out of order after id %d", ErrProtocolViolation, def, prev)
		case !resp.Done && def.ID >= resp.Next:
			return fmt.Errorf("%w: series %s is not below next %d", ErrProtocolViolation, def, resp.Next)
		case def.Name == "":
			return fmt.Errorf("%w: series id %d has no name", ErrProtocolViolation, def.ID)
		}
		prev = def.ID
	}
	// the cursor persisted after this batch must stay within what the batch allocated locally
	if !resp.Done && resp.Next != prev+1 {
		return fmt.Errorf("%w: next %d does not follow the last series id %d", ErrProtocolViolation, resp.Next, prev)
	}
	return nil
}

// BuildResponse answers req from defs, the definitions with an id of at least
// req.Cursor in id order, given the highest id allocated in the catalog.
// The batch is cut at req.MaxBytes but always carries at least one definition.
func BuildResponse(req Request, defs []catalog.Definition, highest catalog.SeriesID) Response {
	if req.MaxSeries > 0 && len(defs) > req.MaxSeries {
		defs = defs[:req.MaxSeries]
	}
	if req.MaxBytes > 0 {
		size := 0
		for i, def := range defs {
			size += len(def.Name) + definitionOverhead
			if size > req.MaxBytes && i > 0 {
				defs = defs[:i]
				break
			}
		}
	}

	resp := Response{Series: defs, Highest: highest}
	if len(defs) == 0 {
		resp.Next = req.Cursor
		resp.Done = true
		return resp
	}
	last := defs[len(defs)-1].ID
	resp.Next = last + 1
	resp.Done = last >= highest
	return resp
}
