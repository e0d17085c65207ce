package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/goflock/internal/fault"
)

// Room (workspace) kinds.
const (
	RoomOpen         = "open"
	RoomProject      = "project"
	RoomDirect       = "direct"
	RoomCoordination = "coordination"
)

// Room is a named context scoping a subset of bots.
type Room struct {
	ID                  string    `json:"id"`
	Kind                string    `json:"kind"`
	Participants        []string  `json:"participants"`
	Owner               string    `json:"owner"`
	CreatedAt           time.Time `json:"created_at"`
	CoordinatorMode     bool      `json:"coordinator_mode"`
	EscalationThreshold string    `json:"escalation_threshold"` // low | medium | high
}

// HasParticipant reports membership.
func (r *Room) HasParticipant(bot string) bool {
	for _, p := range r.Participants {
		if p == bot {
			return true
		}
	}
	return false
}

// RoomStore persists rooms and their envelope history (sessions.db).
type RoomStore struct {
	db *sql.DB
}

func NewRoomStore(db *sql.DB) *RoomStore {
	return &RoomStore{db: db}
}

func (r *RoomStore) Init() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		participants TEXT NOT NULL DEFAULT '[]',
		owner TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		coordinator_mode INTEGER NOT NULL DEFAULT 0,
		escalation_threshold TEXT NOT NULL DEFAULT 'medium'
	);

	CREATE TABLE IF NOT EXISTS room_envelopes (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL REFERENCES rooms(id),
		envelope TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_room_envelopes ON room_envelopes(room_id, timestamp)`)
	return fault.Wrap(fault.KindStoreWrite, err, "init rooms schema")
}

// Create inserts a room. Fails on duplicate id.
func (r *RoomStore) Create(room Room) error {
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now()
	}
	if room.EscalationThreshold == "" {
		room.EscalationThreshold = "medium"
	}
	participants, _ := json.Marshal(room.Participants)
	_, err := r.db.Exec(
		`INSERT INTO rooms (id, kind, participants, owner, created_at, coordinator_mode, escalation_threshold)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		room.ID, room.Kind, string(participants), room.Owner,
		room.CreatedAt.UnixMilli(), boolToInt(room.CoordinatorMode), room.EscalationThreshold)
	return fault.Wrap(fault.KindStoreWrite, err, "create room %s", room.ID)
}

// Get returns a room, or nil when unknown.
func (r *RoomStore) Get(id string) (*Room, error) {
	row := r.db.QueryRow(
		`SELECT id, kind, participants, owner, created_at, coordinator_mode, escalation_threshold
		 FROM rooms WHERE id=?`, id)
	var room Room
	var participants string
	var created int64
	var coord int
	err := row.Scan(&room.ID, &room.Kind, &participants, &room.Owner, &created, &coord, &room.EscalationThreshold)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(participants), &room.Participants)
	room.CreatedAt = msToTime(created)
	room.CoordinatorMode = coord != 0
	return &room, nil
}

// List returns all rooms.
func (r *RoomStore) List() ([]Room, error) {
	rows, err := r.db.Query(
		`SELECT id, kind, participants, owner, created_at, coordinator_mode, escalation_threshold
		 FROM rooms ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var out []Room
	for rows.Next() {
		var room Room
		var participants string
		var created int64
		var coord int
		if err := rows.Scan(&room.ID, &room.Kind, &participants, &room.Owner, &created, &coord, &room.EscalationThreshold); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(participants), &room.Participants)
		room.CreatedAt = msToTime(created)
		room.CoordinatorMode = coord != 0
		out = append(out, room)
	}
	return out, rows.Err()
}

// RoomsForBot returns ids of rooms the bot participates in.
func (r *RoomStore) RoomsForBot(bot string) ([]string, error) {
	rooms, err := r.List()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, room := range rooms {
		if room.HasParticipant(bot) {
			out = append(out, room.ID)
		}
	}
	return out, nil
}

// AppendEnvelope records an envelope in the room's history.
func (r *RoomStore) AppendEnvelope(roomID string, envelopeJSON []byte, ts time.Time) error {
	_, err := r.db.Exec(
		`INSERT INTO room_envelopes (id, room_id, envelope, timestamp) VALUES (?, ?, ?, ?)`,
		NewID(), roomID, string(envelopeJSON), ts.UnixMilli())
	return fault.Wrap(fault.KindStoreWrite, err, "append envelope to %s", roomID)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
