// SPDX-License-Identifier: MIT

package show

import (
	"encoding/json"
	"fmt"
	"sort"
)

// JSON cannot natively carry maps with non-string semantics or sets, so the
// wire form represents a mapping as an array of [key, value] pairs and a set
// as an array of elements. Keys are sorted on marshal so equal states produce
// identical bytes.

func marshalPairs[K ~string, V any](m map[K]V) ([]byte, error) {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	pairs := make([][2]json.RawMessage, 0, len(keys))
	for _, k := range keys {
		kb, err := json.Marshal(string(k))
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(m[k])
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, [2]json.RawMessage{kb, vb})
	}
	return json.Marshal(pairs)
}

func unmarshalPairs[K ~string, V any](data []byte, m *map[K]V) error {
	var pairs [][2]json.RawMessage
	if err := json.Unmarshal(data, &pairs); err != nil {
		return fmt.Errorf("decode pair array: %w", err)
	}
	out := make(map[K]V, len(pairs))
	for _, pair := range pairs {
		var key string
		if err := json.Unmarshal(pair[0], &key); err != nil {
			return fmt.Errorf("decode pair key: %w", err)
		}
		var val V
		if err := json.Unmarshal(pair[1], &val); err != nil {
			return fmt.Errorf("decode pair value for %q: %w", key, err)
		}
		out[K(key)] = val
	}
	*m = out
	return nil
}

// UserMap maps UserID to User and marshals as a sorted pair array.
type UserMap map[UserID]*User

// MarshalJSON implements json.Marshaler.
func (m UserMap) MarshalJSON() ([]byte, error) { return marshalPairs(m) }

// UnmarshalJSON implements json.Unmarshaler.
func (m *UserMap) UnmarshalJSON(data []byte) error {
	return unmarshalPairs(data, (*map[UserID]*User)(m))
}

// TreeMap maps UserID to PersonalTree and marshals as a sorted pair array.
type TreeMap map[UserID]*PersonalTree

// MarshalJSON implements json.Marshaler.
func (m TreeMap) MarshalJSON() ([]byte, error) { return marshalPairs(m) }

// UnmarshalJSON implements json.Unmarshaler.
func (m *TreeMap) UnmarshalJSON(data []byte) error {
	return unmarshalPairs(data, (*map[UserID]*PersonalTree)(m))
}

// UserSet is a set of UserIDs and marshals as a sorted element array.
type UserSet map[UserID]struct{}

// Add inserts id into the set. Idempotent.
func (s UserSet) Add(id UserID) { s[id] = struct{}{} }

// Has reports membership.
func (s UserSet) Has(id UserID) bool {
	_, ok := s[id]
	return ok
}

// MarshalJSON implements json.Marshaler.
func (s UserSet) MarshalJSON() ([]byte, error) {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	return json.Marshal(ids)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *UserSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return fmt.Errorf("decode set array: %w", err)
	}
	out := make(UserSet, len(ids))
	for _, id := range ids {
		out[UserID(id)] = struct{}{}
	}
	*s = out
	return nil
}

// Encode serialises a state snapshot to its canonical JSON wire form.
func Encode(s *ShowState) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode show state: %w", err)
	}
	return data, nil
}

// Decode reconstructs a state snapshot from its JSON wire form.
func Decode(data []byte) (*ShowState, error) {
	var s ShowState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode show state: %w", err)
	}
	if s.Users == nil {
		s.Users = UserMap{}
	}
	if s.PersonalTrees == nil {
		s.PersonalTrees = TreeMap{}
	}
	for _, f := range s.Factions {
		if f != nil && f.CurrentRowCoupVotes == nil {
			f.CurrentRowCoupVotes = UserSet{}
		}
	}
	if s.Paths.FactionPath == nil {
		s.Paths.FactionPath = []OptionID{}
	}
	if s.Paths.PopularPath == nil {
		s.Paths.PopularPath = []OptionID{}
	}
	return &s, nil
}

// Clone deep-copies a state via its wire form. Projections and persistence
// operate on clones so the serialiser keeps exclusive ownership of the
// authoritative value.
func Clone(s *ShowState) (*ShowState, error) {
	data, err := Encode(s)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}
