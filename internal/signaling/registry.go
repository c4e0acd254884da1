package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"

	"github.com/pairwire/signal-relay/internal/metrics"
)

// Peer is one side of a signaling connection. The registry compares peers by
// interface identity and never calls Send itself; delivery belongs to the
// session handler.
type Peer interface {
	ID() string
	Send(msg ServerMessage) error
}

// Phase is a room's position in the offer/answer handshake.
type Phase int

const (
	// PhaseWaiting: fewer than two occupants; no signaling permitted.
	PhaseWaiting Phase = iota
	// PhaseAwaitingOffer: both slots filled; slot 0 must produce an offer.
	PhaseAwaitingOffer
	// PhaseAwaitingAnswer: offer forwarded; slot 1 must produce an answer.
	PhaseAwaitingAnswer
	// PhaseConnected: answer forwarded; only candidates flow from here.
	PhaseConnected
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhaseAwaitingOffer:
		return "awaiting_offer"
	case PhaseAwaitingAnswer:
		return "awaiting_answer"
	case PhaseConnected:
		return "connected"
	default:
		return "unknown"
	}
}

var (
	ErrRoomNotFound     = errors.New("signaling: room not found")
	ErrRoomFull         = errors.New("signaling: room is full")
	ErrOutOfOrder       = errors.New("signaling: message out of order for room phase")
	ErrPermissionDenied = errors.New("signaling: peer does not occupy the required slot")
	ErrInvalidPayload   = errors.New("signaling: payload is not a structured value")
)

// room pairs up to two peers. Slot order is assignment order: slot 0 is the
// initiator (produces the offer), slot 1 the responder.
type room struct {
	slots []Peer
	phase Phase
}

func (rm *room) slotOf(p Peer) int {
	for i, occ := range rm.slots {
		if occ == p {
			return i
		}
	}
	return -1
}

func (rm *room) other(p Peer) Peer {
	i := rm.slotOf(p)
	if i < 0 || len(rm.slots) < 2 {
		return nil
	}
	return rm.slots[(i+1)%2]
}

// Registry owns all room state and the connection-to-rooms index used for
// cleanup. Every exported operation is one critical section: join and the
// phase transitions are check-then-act sequences that must not interleave.
//
// The registry performs no I/O. Operations that require a push to the peer
// return the peer to push to; the caller owns delivery.
type Registry struct {
	mu sync.Mutex

	rooms map[string]*room

	// joined is the inverse, non-owning index: which rooms each peer joined.
	// Used only to find rooms to clean up on disconnect; room membership is
	// always decided by the room's slots.
	joined map[Peer]map[string]struct{}

	metrics *metrics.Metrics
}

// NewRegistry creates an empty registry. The metrics sink may be nil.
func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{
		rooms:   make(map[string]*room),
		joined:  make(map[Peer]map[string]struct{}),
		metrics: m,
	}
}

func (r *Registry) inc(name string) {
	if r.metrics != nil {
		r.metrics.Inc(name)
	}
}

// JoinOutcome reports how a Join call changed the room.
type JoinOutcome int

const (
	// JoinFirstOccupant: the room was created with the caller in slot 0.
	JoinFirstOccupant JoinOutcome = iota + 1
	// JoinPairComplete: the caller filled slot 1 and the handshake may begin.
	JoinPairComplete
)

// JoinResult carries the outcome plus, on JoinPairComplete, the slot 0 peer
// that must be asked to produce an offer.
type JoinResult struct {
	Outcome   JoinOutcome
	Initiator Peer
}

// Join places p into the room named roomID, creating the room on first use.
// A full room is left untouched and ErrRoomFull is returned.
func (r *Registry) Join(p Peer, roomID string) (JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		r.rooms[roomID] = &room{slots: []Peer{p}, phase: PhaseWaiting}
		r.indexLocked(p, roomID)
		r.inc(metrics.RoomCreated)
		return JoinResult{Outcome: JoinFirstOccupant}, nil
	}

	switch len(rm.slots) {
	case 0:
		// Unreachable: empty rooms are deleted eagerly. Treat as a fresh room
		// rather than trusting stale state.
		rm.slots = []Peer{p}
		rm.phase = PhaseWaiting
		r.indexLocked(p, roomID)
		return JoinResult{Outcome: JoinFirstOccupant}, nil
	case 1:
		rm.slots = append(rm.slots, p)
		rm.phase = PhaseAwaitingOffer
		r.indexLocked(p, roomID)
		r.inc(metrics.PairCompleted)
		return JoinResult{Outcome: JoinPairComplete, Initiator: rm.slots[0]}, nil
	default:
		return JoinResult{}, ErrRoomFull
	}
}

// SubmitOffer transitions the room to PhaseAwaitingAnswer and returns the
// slot 1 peer that must receive the offer payload. Only the slot 0 occupant
// may submit, and only while the room awaits an offer.
func (r *Registry) SubmitOffer(p Peer, roomID string, payload json.RawMessage) (Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if rm.phase != PhaseAwaitingOffer {
		return nil, ErrOutOfOrder
	}
	if rm.slotOf(p) != 0 {
		return nil, ErrPermissionDenied
	}
	if !isStructuredPayload(payload) {
		return nil, ErrInvalidPayload
	}

	rm.phase = PhaseAwaitingAnswer
	r.inc(metrics.OfferRelayed)
	return rm.other(p), nil
}

// SubmitAnswer transitions the room to PhaseConnected and returns the slot 0
// peer that must receive the answer payload. Mirror image of SubmitOffer.
func (r *Registry) SubmitAnswer(p Peer, roomID string, payload json.RawMessage) (Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if rm.phase != PhaseAwaitingAnswer {
		return nil, ErrOutOfOrder
	}
	if rm.slotOf(p) != 1 {
		return nil, ErrPermissionDenied
	}
	if !isStructuredPayload(payload) {
		return nil, ErrInvalidPayload
	}

	rm.phase = PhaseConnected
	r.inc(metrics.AnswerRelayed)
	return rm.other(p), nil
}

// RelayCandidate returns the other occupant of the room so the caller can
// forward an ICE candidate payload verbatim. Candidates are permitted from
// PhaseAwaitingOffer onward (trickle ICE needs them before the answer
// completes); in PhaseWaiting there is no peer to leak them to and the call
// fails with ErrOutOfOrder.
func (r *Registry) RelayCandidate(p Peer, roomID string) (Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if rm.phase == PhaseWaiting {
		return nil, ErrOutOfOrder
	}
	if rm.slotOf(p) < 0 {
		return nil, ErrPermissionDenied
	}

	r.inc(metrics.CandidateRelayed)
	return rm.other(p), nil
}

// Leave removes p from the named room. The room's phase resets to
// PhaseWaiting for a remaining occupant; an emptied room is deleted. Leaving
// a room p never joined is a no-op.
func (r *Registry) Leave(p Peer, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(p, roomID)
}

// LeaveAll removes p from every room it joined and drops its index entry.
// Safe to call for peers that joined nothing; a second call is a no-op.
func (r *Registry) LeaveAll(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for roomID := range r.joined[p] {
		r.leaveLocked(p, roomID)
	}
	delete(r.joined, p)
}

func (r *Registry) leaveLocked(p Peer, roomID string) {
	rm, ok := r.rooms[roomID]
	if ok {
		// A peer may hold both slots of a room it joined twice; vacate all of
		// them.
		kept := rm.slots[:0]
		for _, occ := range rm.slots {
			if occ != p {
				kept = append(kept, occ)
			}
		}
		if len(kept) != len(rm.slots) {
			rm.slots = kept
			rm.phase = PhaseWaiting
			if len(rm.slots) == 0 {
				delete(r.rooms, roomID)
				r.inc(metrics.RoomDeleted)
			}
		}
	}
	if ids, ok := r.joined[p]; ok {
		delete(ids, roomID)
		if len(ids) == 0 {
			delete(r.joined, p)
		}
	}
}

func (r *Registry) indexLocked(p Peer, roomID string) {
	ids, ok := r.joined[p]
	if !ok {
		ids = make(map[string]struct{})
		r.joined[p] = ids
	}
	ids[roomID] = struct{}{}
}

// RoomCount reports the number of live rooms.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// RoomPhase reports the phase of the named room, if it exists.
func (r *Registry) RoomPhase(roomID string) (Phase, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return PhaseWaiting, false
	}
	return rm.phase, true
}

// RoomOccupancy reports how many slots the named room has filled.
func (r *Registry) RoomOccupancy(roomID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return 0, false
	}
	return len(rm.slots), true
}

// isStructuredPayload reports whether raw is a JSON object or array. The
// relay never parses payloads beyond this outer-shape check.
func isStructuredPayload(raw json.RawMessage) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}
