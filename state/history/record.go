package history

import (
	"encoding/binary"
	"fmt"

	"fortio.org/safecast"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tracestate/tracestate/state"
)

var (
	metaKey        = []byte("meta")
	intervalPrefix = []byte("iv/")
)

// intervalKey orders intervals by quark, then end time. Times are stored with
// the sign bit flipped so negative timestamps sort first.
func intervalKey(q state.Quark, end int64) []byte {
	key := make([]byte, 0, len(intervalPrefix)+12)
	key = append(key, intervalPrefix...)
	key = binary.BigEndian.AppendUint32(key, uint32(q))
	return binary.BigEndian.AppendUint64(key, uint64(end)^(1<<63))
}

func quarkPrefix(q state.Quark) []byte {
	key := make([]byte, 0, len(intervalPrefix)+4)
	key = append(key, intervalPrefix...)
	return binary.BigEndian.AppendUint32(key, uint32(q))
}

type edgeRecord struct {
	ID      int32  `msgpack:"id"`
	SrcHost string `msgpack:"sh"`
	SrcID   int    `msgpack:"si"`
	DstHost string `msgpack:"dh"`
	DstID   int    `msgpack:"di"`
}

// intervalRecord is the stored form of an interval. The quark and end time
// are part of the key as well.
type intervalRecord struct {
	Quark int32           `msgpack:"q"`
	Start int64           `msgpack:"s"`
	End   int64           `msgpack:"e"`
	Kind  state.ValueKind `msgpack:"k"`
	Int   int64           `msgpack:"i,omitempty"`
	Float float64         `msgpack:"d,omitempty"`
	Str   string          `msgpack:"str,omitempty"`
	Edge  *edgeRecord     `msgpack:"edge,omitempty"`
}

func encodeInterval(iv state.Interval) ([]byte, error) {
	q, err := safecast.Conv[int32](int(iv.Quark))
	if err != nil {
		return nil, fmt.Errorf("quark %d: %w", iv.Quark, err)
	}
	rec := intervalRecord{Quark: q, Start: iv.Start, End: iv.End, Kind: iv.Value.Kind()}
	switch iv.Value.Kind() {
	case state.KindInt, state.KindLong:
		rec.Int, _ = iv.Value.Long()
	case state.KindDouble:
		rec.Float, _ = iv.Value.Double()
	case state.KindString:
		rec.Str, _ = iv.Value.Str()
	case state.KindEdge:
		e, _ := iv.Value.Edge()
		rec.Edge = &edgeRecord{
			ID:      e.ID,
			SrcHost: e.Source.Host,
			SrcID:   e.Source.ID,
			DstHost: e.Dest.Host,
			DstID:   e.Dest.ID,
		}
	}
	return msgpack.Marshal(&rec)
}

func decodeInterval(data []byte) (state.Interval, error) {
	var rec intervalRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return state.Interval{}, fmt.Errorf("decoding interval: %w", err)
	}
	iv := state.Interval{Quark: state.Quark(rec.Quark), Start: rec.Start, End: rec.End}
	switch rec.Kind {
	case state.KindNull:
		iv.Value = state.NullValue()
	case state.KindInt:
		iv.Value = state.IntValue(int32(rec.Int))
	case state.KindLong:
		iv.Value = state.LongValue(rec.Int)
	case state.KindDouble:
		iv.Value = state.DoubleValue(rec.Float)
	case state.KindString:
		iv.Value = state.StringValue(rec.Str)
	case state.KindEdge:
		if rec.Edge == nil {
			return state.Interval{}, fmt.Errorf("edge interval of quark %d has no edge", rec.Quark)
		}
		iv.Value = state.EdgeValue(state.Edge{
			ID:     rec.Edge.ID,
			Source: state.Endpoint{Host: rec.Edge.SrcHost, ID: rec.Edge.SrcID},
			Dest:   state.Endpoint{Host: rec.Edge.DstHost, ID: rec.Edge.DstID},
		})
	default:
		return state.Interval{}, fmt.Errorf("unknown value kind %d", rec.Kind)
	}
	return iv, nil
}

type attributeRecord struct {
	Quark  int32  `msgpack:"q"`
	Parent int32  `msgpack:"p"`
	Name   string `msgpack:"n"`
}

// header describes a finished history.
type header struct {
	Version    int               `msgpack:"v"`
	StartTime  int64             `msgpack:"start"`
	EndTime    int64             `msgpack:"end"`
	Intervals  int64             `msgpack:"intervals"`
	Attributes []attributeRecord `msgpack:"attributes"`
}

const formatVersion = 1

func encodeHeader(info state.HistoryInfo, intervals int64) ([]byte, error) {
	h := header{Version: formatVersion, StartTime: info.StartTime, EndTime: info.EndTime, Intervals: intervals}
	h.Attributes = make([]attributeRecord, 0, len(info.Attributes))
	for _, a := range info.Attributes {
		h.Attributes = append(h.Attributes, attributeRecord{Quark: int32(a.Quark), Parent: int32(a.Parent), Name: a.Name})
	}
	return msgpack.Marshal(&h)
}

func decodeHeader(data []byte) (header, error) {
	var h header
	if err := msgpack.Unmarshal(data, &h); err != nil {
		return header{}, fmt.Errorf("decoding history header: %w", err)
	}
	if h.Version != formatVersion {
		return header{}, fmt.Errorf("history format version %d, want %d", h.Version, formatVersion)
	}
	return h, nil
}
