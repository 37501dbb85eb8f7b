package conn

import (
	"errors"
	"fmt"

	"github.com/bnema/wlproto/wire"
)

// ErrIDsExhausted is returned when every id in the local range is taken.
var ErrIDsExhausted = errors.New("object ids exhausted")

// Store maps object ids to Objects for one connection.
//
// Ids removed by the local side on the client are kept as zombies until the
// server acknowledges the deletion, so they are not handed out again while
// the server may still address them. On the server, objects destroyed by a
// client request leave a tombstone until their id is registered again, so
// late messages to them can still be sized.
type Store struct {
	side    Side
	objects map[wire.ObjectID]Object
	zombies map[wire.ObjectID]Object
	tombs   map[wire.ObjectID]Object
	next    wire.ObjectID
}

// NewStore returns an empty store allocating ids in side's range.
func NewStore(side Side) *Store {
	s := &Store{
		side:    side,
		objects: make(map[wire.ObjectID]Object),
		zombies: make(map[wire.ObjectID]Object),
		tombs:   make(map[wire.ObjectID]Object),
	}
	s.next, _ = s.bounds()
	return s
}

func (s *Store) bounds() (lo, hi wire.ObjectID) {
	if s.side == ServerSide {
		return wire.ServerIDMin, wire.ServerIDMax
	}
	return wire.ClientIDMin, wire.ClientIDMax
}

// Insert registers obj under id.
func (s *Store) Insert(id wire.ObjectID, obj Object) error {
	if id == wire.NullID {
		return fmt.Errorf("%w: cannot register the null object", wire.ErrMalformedPayload)
	}
	if _, ok := s.objects[id]; ok {
		return &wire.ProtocolError{Kind: wire.ErrIDInUse, ObjectID: id, Detail: "already registered"}
	}
	if _, ok := s.zombies[id]; ok {
		return &wire.ProtocolError{Kind: wire.ErrIDInUse, ObjectID: id, Detail: "awaiting delete acknowledgement"}
	}
	delete(s.tombs, id)
	s.objects[id] = obj
	return nil
}

// Get returns the live object registered under id.
func (s *Store) Get(id wire.ObjectID) (Object, bool) {
	obj, ok := s.objects[id]
	return obj, ok
}

// Remove unregisters id and returns the object it held.
func (s *Store) Remove(id wire.ObjectID) (Object, bool) {
	obj, ok := s.objects[id]
	if ok {
		delete(s.objects, id)
	}
	return obj, ok
}

// Retire removes id from the live set. A client-allocated id retired on the
// client is parked as a zombie until Release, since the server may still
// address it; any other id is buried.
func (s *Store) Retire(id wire.ObjectID) {
	if s.side == ClientSide && !id.IsServerID() {
		if obj, ok := s.Remove(id); ok {
			s.zombies[id] = obj
		}
		return
	}
	s.Bury(id)
}

// Bury removes id from the live set and keeps its object as a tombstone
// until the id is inserted again.
func (s *Store) Bury(id wire.ObjectID) {
	if obj, ok := s.Remove(id); ok {
		s.tombs[id] = obj
	}
}

// Tombstone returns the destroyed object last registered under id, if the
// id has not been reused since.
func (s *Store) Tombstone(id wire.ObjectID) (Object, bool) {
	obj, ok := s.tombs[id]
	return obj, ok
}

func (s *Store) dropTombstone(id wire.ObjectID) {
	delete(s.tombs, id)
}

// Release drops a zombie once the peer has acknowledged its deletion,
// making the id available again.
func (s *Store) Release(id wire.ObjectID) {
	delete(s.zombies, id)
}

// Zombie returns the retired object for id, if any.
func (s *Store) Zombie(id wire.ObjectID) (Object, bool) {
	obj, ok := s.zombies[id]
	return obj, ok
}

// AllocateID returns the next free id in the local range. Allocation wraps
// around at the end of the range and skips live and zombie ids.
func (s *Store) AllocateID() (wire.ObjectID, error) {
	lo, hi := s.bounds()
	span := uint64(hi-lo) + 1
	for i := uint64(0); i < span; i++ {
		id := s.next
		if s.next == hi {
			s.next = lo
		} else {
			s.next++
		}
		if _, ok := s.objects[id]; ok {
			continue
		}
		if _, ok := s.zombies[id]; ok {
			continue
		}
		return id, nil
	}
	return wire.NullID, ErrIDsExhausted
}

// Len returns the number of live objects.
func (s *Store) Len() int {
	return len(s.objects)
}

// IDs returns the live ids in no particular order.
func (s *Store) IDs() []wire.ObjectID {
	ids := make([]wire.ObjectID, 0, len(s.objects))
	for id := range s.objects {
		ids = append(ids, id)
	}
	return ids
}

// Local reports whether id lies in the range this side allocates from.
func (s *Store) Local(id wire.ObjectID) bool {
	lo, hi := s.bounds()
	return id >= lo && id <= hi
}
