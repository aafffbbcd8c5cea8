package pipeline

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sort"

	"vehirec/internal/domain"
)

// IDEncoder maps external ids to dense zero-based indices and back.
// The mapping is fixed at fit time: ids are deduplicated and sorted ascending.
type IDEncoder struct {
	kind  domain.IDKind
	ids   []int64
	index map[int64]int
}

// FitIDEncoder builds a stable mapping over the observed ids.
func FitIDEncoder(kind domain.IDKind, raw []int64) *IDEncoder {
	uniq := make(map[int64]struct{}, len(raw))
	ids := make([]int64, 0, len(raw))
	for _, id := range raw {
		if _, ok := uniq[id]; ok {
			continue
		}
		uniq[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return newIDEncoder(kind, ids)
}

func newIDEncoder(kind domain.IDKind, ids []int64) *IDEncoder {
	index := make(map[int64]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}
	return &IDEncoder{kind: kind, ids: ids, index: index}
}

// Encode returns the dense index of id, or an UnknownIDError if id was not seen at fit time.
func (e *IDEncoder) Encode(id int64) (int, error) {
	idx, ok := e.index[id]
	if !ok {
		return 0, &domain.UnknownIDError{Kind: e.kind, ID: id}
	}
	return idx, nil
}

// Decode returns the external id for a dense index.
func (e *IDEncoder) Decode(idx int) (int64, error) {
	if idx < 0 || idx >= len(e.ids) {
		return 0, &domain.UnknownIDError{Kind: e.kind, ID: int64(idx)}
	}
	return e.ids[idx], nil
}

// Contains reports whether id was seen at fit time.
func (e *IDEncoder) Contains(id int64) bool {
	_, ok := e.index[id]
	return ok
}

// Len is the number of distinct ids.
func (e *IDEncoder) Len() int {
	return len(e.ids)
}

// IDs returns a copy of the fitted ids in index order.
func (e *IDEncoder) IDs() []int64 {
	out := make([]int64, len(e.ids))
	copy(out, e.ids)
	return out
}

type encoderWire struct {
	Kind string
	IDs  []int64
}

func (e *IDEncoder) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(encoderWire{Kind: string(e.kind), IDs: e.ids}); err != nil {
		return nil, fmt.Errorf("encode id encoder: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *IDEncoder) GobDecode(data []byte) error {
	var w encoderWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return fmt.Errorf("decode id encoder: %w", err)
	}
	*e = *newIDEncoder(domain.IDKind(w.Kind), w.IDs)
	return nil
}
