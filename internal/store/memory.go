package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/nextlevelbuilder/goflock/internal/fault"
)

// Event extraction states.
const (
	ExtractionPending = "pending"
	ExtractionDone    = "done"
	ExtractionFailed  = "failed"
)

// Learning sources.
const (
	LearningSourceUserFeedback = "user_feedback"
	LearningSourceExchange     = "learning_exchange"
)

// Summary node scopes.
const (
	ScopeRoot    = "root"
	ScopeChannel = "channel"
	ScopeEntity  = "entity"
	ScopeTopic   = "topic"
)

// Event is a raw observation awaiting entity extraction.
type Event struct {
	ID               string
	Content          string
	SourceBot        string
	Channel          string
	Timestamp        time.Time
	Confidence       float64
	Embedding        []float32
	ExtractionStatus string
}

// Entity is a deduplicated knowledge-graph node.
type Entity struct {
	ID            string
	CanonicalName string
	Aliases       []string
	Type          string
	Embedding     []float32
	LastSeen      time.Time
}

// Edge links two entities; (subject, predicate, object) is unique.
type Edge struct {
	ID             string
	SubjectEntity  string
	Predicate      string
	ObjectEntity   string
	Confidence     float64
	EvidenceEvents []string
}

// Fact is a standalone triple; same uniqueness rule as Edge.
type Fact struct {
	ID         string
	Subject    string
	Predicate  string
	Object     string
	Confidence float64
	Source     string
}

// SummaryNode is one node of the hierarchical summary tree.
type SummaryNode struct {
	ID               string
	ParentID         string // empty for root
	Scope            string
	ScopeKey         string // channel name, entity id, or topic
	Content          string
	StalenessCounter int
	EventsCovered    int
}

// Learning is a private per-bot insight with decaying relevance.
type Learning struct {
	ID             string
	OwnerBot       string
	Text           string
	Category       string
	Confidence     float64
	RelevanceScore float64
	Source         string
	CreatedAt      time.Time
	LastUsedAt     time.Time
}

// ScoredEntity is an entity with its query similarity.
type ScoredEntity struct {
	Entity     Entity
	Similarity float64
}

// MemoryStore persists the knowledge graph in memory.db: events,
// entities, edges, facts, summary nodes, and learnings. One physical
// database; learnings are logically scoped by owner_bot.
type MemoryStore struct {
	db *sql.DB
}

func NewMemoryStore(db *sql.DB) *MemoryStore {
	return &MemoryStore{db: db}
}

func (m *MemoryStore) Close() error { return m.db.Close() }

func (m *MemoryStore) Init() error {
	_, err := m.db.Exec(`
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		source_bot TEXT NOT NULL,
		channel TEXT NOT NULL DEFAULT '',
		timestamp INTEGER NOT NULL,
		confidence REAL NOT NULL DEFAULT 1.0,
		embedding BLOB,
		extraction_status TEXT NOT NULL DEFAULT 'pending'
	);
	CREATE INDEX IF NOT EXISTS idx_events_status ON events(extraction_status, timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_channel ON events(channel, timestamp);

	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		canonical_name TEXT NOT NULL,
		normalized_name TEXT NOT NULL,
		aliases TEXT NOT NULL DEFAULT '[]',
		type TEXT NOT NULL DEFAULT '',
		embedding BLOB,
		last_seen INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_norm ON entities(normalized_name);

	CREATE TABLE IF NOT EXISTS edges (
		id TEXT PRIMARY KEY,
		subject_entity TEXT NOT NULL,
		predicate TEXT NOT NULL,
		object_entity TEXT NOT NULL,
		confidence REAL NOT NULL,
		evidence_event_ids TEXT NOT NULL DEFAULT '[]',
		UNIQUE(subject_entity, predicate, object_entity)
	);

	CREATE TABLE IF NOT EXISTS facts (
		id TEXT PRIMARY KEY,
		subject TEXT NOT NULL,
		predicate TEXT NOT NULL,
		object TEXT NOT NULL,
		confidence REAL NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		UNIQUE(subject, predicate, object)
	);

	CREATE TABLE IF NOT EXISTS summary_nodes (
		id TEXT PRIMARY KEY,
		parent_id TEXT,
		scope TEXT NOT NULL,
		scope_key TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		staleness_counter INTEGER NOT NULL DEFAULT 0,
		events_covered INTEGER NOT NULL DEFAULT 0,
		UNIQUE(scope, scope_key)
	);

	CREATE TABLE IF NOT EXISTS learnings (
		id TEXT PRIMARY KEY,
		owner_bot TEXT NOT NULL,
		text TEXT NOT NULL,
		category TEXT NOT NULL,
		confidence REAL NOT NULL,
		relevance_score REAL NOT NULL DEFAULT 1.0,
		source TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		last_used_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_learnings_owner ON learnings(owner_bot, category)`)
	return fault.Wrap(fault.KindStoreWrite, err, "init memory schema")
}

// --- events ---

func (m *MemoryStore) InsertEvent(ev Event) (string, error) {
	if ev.ID == "" {
		ev.ID = NewID()
	}
	if ev.ExtractionStatus == "" {
		ev.ExtractionStatus = ExtractionPending
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	_, err := m.db.Exec(
		`INSERT INTO events (id, content, source_bot, channel, timestamp, confidence, embedding, extraction_status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Content, ev.SourceBot, ev.Channel, ev.Timestamp.UnixMilli(),
		ev.Confidence, PackEmbedding(ev.Embedding), ev.ExtractionStatus)
	return ev.ID, fault.Wrap(fault.KindStoreWrite, err, "insert event")
}

// PendingEvents returns up to limit events awaiting extraction, oldest
// first.
func (m *MemoryStore) PendingEvents(limit int) ([]Event, error) {
	rows, err := m.db.Query(
		selectEvent+` WHERE extraction_status = ? ORDER BY timestamp ASC LIMIT ?`,
		ExtractionPending, limit)
	if err != nil {
		return nil, fmt.Errorf("pending events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (m *MemoryStore) MarkExtracted(eventID, status string) error {
	_, err := m.db.Exec(`UPDATE events SET extraction_status=? WHERE id=?`, status, eventID)
	return fault.Wrap(fault.KindStoreWrite, err, "mark event %s", eventID)
}

// RecentEvents returns the newest events regardless of status.
func (m *MemoryStore) RecentEvents(limit int) ([]Event, error) {
	rows, err := m.db.Query(selectEvent+` ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// RecentEventsByChannel returns the newest events seen on one channel.
func (m *MemoryStore) RecentEventsByChannel(channel string, limit int) ([]Event, error) {
	rows, err := m.db.Query(
		selectEvent+` WHERE channel = ? ORDER BY timestamp DESC LIMIT ?`, channel, limit)
	if err != nil {
		return nil, fmt.Errorf("recent events for %s: %w", channel, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

const selectEvent = `SELECT id, content, source_bot, channel, timestamp, confidence, embedding, extraction_status
	 FROM events`

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var ev Event
		var ts int64
		var blob []byte
		if err := rows.Scan(&ev.ID, &ev.Content, &ev.SourceBot, &ev.Channel, &ts, &ev.Confidence, &blob, &ev.ExtractionStatus); err != nil {
			return nil, err
		}
		ev.Timestamp = msToTime(ts)
		ev.Embedding = UnpackEmbedding(blob)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// --- entities ---

// NormalizeName is the exact-match deduplication key.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (m *MemoryStore) InsertEntity(e Entity) (string, error) {
	if e.ID == "" {
		e.ID = NewID()
	}
	aliases, _ := json.Marshal(e.Aliases)
	_, err := m.db.Exec(
		`INSERT INTO entities (id, canonical_name, normalized_name, aliases, type, embedding, last_seen)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CanonicalName, NormalizeName(e.CanonicalName), string(aliases),
		e.Type, PackEmbedding(e.Embedding), e.LastSeen.UnixMilli())
	return e.ID, fault.Wrap(fault.KindStoreWrite, err, "insert entity %s", e.CanonicalName)
}

// FindEntityByName matches on the normalized name.
func (m *MemoryStore) FindEntityByName(name string) (*Entity, error) {
	row := m.db.QueryRow(
		`SELECT id, canonical_name, aliases, type, embedding, last_seen
		 FROM entities WHERE normalized_name = ?`, NormalizeName(name))
	return scanEntityRow(row)
}

func (m *MemoryStore) GetEntity(id string) (*Entity, error) {
	row := m.db.QueryRow(
		`SELECT id, canonical_name, aliases, type, embedding, last_seen
		 FROM entities WHERE id = ?`, id)
	return scanEntityRow(row)
}

func scanEntityRow(row *sql.Row) (*Entity, error) {
	var e Entity
	var aliasJSON string
	var blob []byte
	var lastSeen int64
	err := row.Scan(&e.ID, &e.CanonicalName, &aliasJSON, &e.Type, &blob, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(aliasJSON), &e.Aliases)
	e.Embedding = UnpackEmbedding(blob)
	e.LastSeen = msToTime(lastSeen)
	return &e, nil
}

// TouchEntity bumps last_seen and optionally records a new alias.
func (m *MemoryStore) TouchEntity(id, alias string) error {
	if alias != "" {
		e, err := m.GetEntity(id)
		if err != nil || e == nil {
			return fault.Wrap(fault.KindStoreWrite, err, "touch entity %s", id)
		}
		found := false
		for _, a := range e.Aliases {
			if NormalizeName(a) == NormalizeName(alias) {
				found = true
				break
			}
		}
		if !found && NormalizeName(alias) != NormalizeName(e.CanonicalName) {
			aliases, _ := json.Marshal(append(e.Aliases, alias))
			_, err := m.db.Exec(`UPDATE entities SET aliases=?, last_seen=? WHERE id=?`,
				string(aliases), nowMS(), id)
			return fault.Wrap(fault.KindStoreWrite, err, "touch entity %s", id)
		}
	}
	_, err := m.db.Exec(`UPDATE entities SET last_seen=? WHERE id=?`, nowMS(), id)
	return fault.Wrap(fault.KindStoreWrite, err, "touch entity %s", id)
}

// SearchSimilarEntities runs a brute-force cosine scan. Ties break on
// higher last_seen.
func (m *MemoryStore) SearchSimilarEntities(vec []float32, topK int, threshold float64) ([]ScoredEntity, error) {
	rows, err := m.db.Query(
		`SELECT id, canonical_name, aliases, type, embedding, last_seen FROM entities`)
	if err != nil {
		return nil, fmt.Errorf("scan entities: %w", err)
	}
	defer rows.Close()

	var scored []ScoredEntity
	for rows.Next() {
		var e Entity
		var aliasJSON string
		var blob []byte
		var lastSeen int64
		if err := rows.Scan(&e.ID, &e.CanonicalName, &aliasJSON, &e.Type, &blob, &lastSeen); err != nil {
			return nil, err
		}
		e.Embedding = UnpackEmbedding(blob)
		if len(e.Embedding) == 0 {
			continue
		}
		sim := Cosine(vec, e.Embedding)
		if sim < threshold {
			continue
		}
		json.Unmarshal([]byte(aliasJSON), &e.Aliases)
		e.LastSeen = msToTime(lastSeen)
		scored = append(scored, ScoredEntity{Entity: e, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Entity.LastSeen.After(scored[j].Entity.LastSeen)
	})
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// ListEntities returns entities ordered by recency.
func (m *MemoryStore) ListEntities(limit int) ([]Entity, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := m.db.Query(
		`SELECT id, canonical_name, aliases, type, embedding, last_seen
		 FROM entities ORDER BY last_seen DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var e Entity
		var aliasJSON string
		var blob []byte
		var lastSeen int64
		if err := rows.Scan(&e.ID, &e.CanonicalName, &aliasJSON, &e.Type, &blob, &lastSeen); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(aliasJSON), &e.Aliases)
		e.Embedding = UnpackEmbedding(blob)
		e.LastSeen = msToTime(lastSeen)
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteEntity removes an entity and its edges.
func (m *MemoryStore) DeleteEntity(id string) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fault.Wrap(fault.KindStoreWrite, err, "delete entity %s", id)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM edges WHERE subject_entity=? OR object_entity=?`, id, id); err != nil {
		return fault.Wrap(fault.KindStoreWrite, err, "delete edges for %s", id)
	}
	if _, err := tx.Exec(`DELETE FROM entities WHERE id=?`, id); err != nil {
		return fault.Wrap(fault.KindStoreWrite, err, "delete entity %s", id)
	}
	return fault.Wrap(fault.KindStoreWrite, tx.Commit(), "delete entity %s", id)
}

// --- edges & facts ---

// UpsertEdge inserts an edge; on (s,p,o) conflict the higher
// confidence wins and evidence merges.
func (m *MemoryStore) UpsertEdge(e Edge) error {
	if e.ID == "" {
		e.ID = NewID()
	}
	row := m.db.QueryRow(
		`SELECT id, confidence, evidence_event_ids FROM edges
		 WHERE subject_entity=? AND predicate=? AND object_entity=?`,
		e.SubjectEntity, e.Predicate, e.ObjectEntity)

	var existingID, evidenceJSON string
	var existingConf float64
	err := row.Scan(&existingID, &existingConf, &evidenceJSON)
	switch {
	case err == sql.ErrNoRows:
		evidence, _ := json.Marshal(e.EvidenceEvents)
		_, err := m.db.Exec(
			`INSERT INTO edges (id, subject_entity, predicate, object_entity, confidence, evidence_event_ids)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			e.ID, e.SubjectEntity, e.Predicate, e.ObjectEntity, e.Confidence, string(evidence))
		return fault.Wrap(fault.KindStoreWrite, err, "insert edge")
	case err != nil:
		return fault.Wrap(fault.KindStoreWrite, err, "lookup edge")
	}

	var existing []string
	json.Unmarshal([]byte(evidenceJSON), &existing)
	merged := mergeStrings(existing, e.EvidenceEvents)
	conf := math.Max(existingConf, e.Confidence)
	evidence, _ := json.Marshal(merged)
	_, err = m.db.Exec(`UPDATE edges SET confidence=?, evidence_event_ids=? WHERE id=?`,
		conf, string(evidence), existingID)
	return fault.Wrap(fault.KindStoreWrite, err, "merge edge")
}

// EdgesForEntity returns edges touching the entity.
func (m *MemoryStore) EdgesForEntity(entityID string) ([]Edge, error) {
	rows, err := m.db.Query(
		`SELECT id, subject_entity, predicate, object_entity, confidence, evidence_event_ids
		 FROM edges WHERE subject_entity=? OR object_entity=?`, entityID, entityID)
	if err != nil {
		return nil, fmt.Errorf("edges for %s: %w", entityID, err)
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		var e Edge
		var evidenceJSON string
		if err := rows.Scan(&e.ID, &e.SubjectEntity, &e.Predicate, &e.ObjectEntity, &e.Confidence, &evidenceJSON); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(evidenceJSON), &e.EvidenceEvents)
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertFact inserts a fact; on (s,p,o) conflict the higher
// confidence wins.
func (m *MemoryStore) UpsertFact(f Fact) error {
	if f.ID == "" {
		f.ID = NewID()
	}
	_, err := m.db.Exec(
		`INSERT INTO facts (id, subject, predicate, object, confidence, source)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(subject, predicate, object)
		 DO UPDATE SET confidence = MAX(confidence, excluded.confidence),
		               source = CASE WHEN excluded.confidence > confidence THEN excluded.source ELSE source END`,
		f.ID, f.Subject, f.Predicate, f.Object, f.Confidence, f.Source)
	return fault.Wrap(fault.KindStoreWrite, err, "upsert fact")
}

// FactsForSubjects returns facts whose subject is in the given set.
func (m *MemoryStore) FactsForSubjects(subjects []string) ([]Fact, error) {
	if len(subjects) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(subjects))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(subjects))
	for i, s := range subjects {
		args[i] = s
	}
	rows, err := m.db.Query(
		`SELECT id, subject, predicate, object, confidence, source
		 FROM facts WHERE subject IN (`+placeholders+`) ORDER BY confidence DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("facts: %w", err)
	}
	defer rows.Close()

	var out []Fact
	for rows.Next() {
		var f Fact
		if err := rows.Scan(&f.ID, &f.Subject, &f.Predicate, &f.Object, &f.Confidence, &f.Source); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// --- summary nodes ---

// EnsureSummaryNode returns the node for (scope, scopeKey), creating
// it (and linking it under parent) when missing.
func (m *MemoryStore) EnsureSummaryNode(scope, scopeKey, parentID string) (*SummaryNode, error) {
	node, err := m.GetSummaryNode(scope, scopeKey)
	if err != nil {
		return nil, err
	}
	if node != nil {
		return node, nil
	}
	node = &SummaryNode{ID: NewID(), ParentID: parentID, Scope: scope, ScopeKey: scopeKey}
	_, err = m.db.Exec(
		`INSERT INTO summary_nodes (id, parent_id, scope, scope_key) VALUES (?, ?, ?, ?)
		 ON CONFLICT(scope, scope_key) DO NOTHING`,
		node.ID, nullable(parentID), scope, scopeKey)
	if err != nil {
		return nil, fault.Wrap(fault.KindStoreWrite, err, "ensure summary node %s/%s", scope, scopeKey)
	}
	return m.GetSummaryNode(scope, scopeKey)
}

func (m *MemoryStore) GetSummaryNode(scope, scopeKey string) (*SummaryNode, error) {
	row := m.db.QueryRow(
		`SELECT id, COALESCE(parent_id,''), scope, scope_key, content, staleness_counter, events_covered
		 FROM summary_nodes WHERE scope=? AND scope_key=?`, scope, scopeKey)
	var n SummaryNode
	err := row.Scan(&n.ID, &n.ParentID, &n.Scope, &n.ScopeKey, &n.Content, &n.StalenessCounter, &n.EventsCovered)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// BumpStaleness increments the staleness counter for a node and its
// ancestors (an event in a scope also stales the root).
func (m *MemoryStore) BumpStaleness(nodeID string) error {
	for nodeID != "" {
		row := m.db.QueryRow(`SELECT COALESCE(parent_id,'') FROM summary_nodes WHERE id=?`, nodeID)
		var parent string
		if err := row.Scan(&parent); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return fault.Wrap(fault.KindStoreWrite, err, "bump staleness")
		}
		if _, err := m.db.Exec(
			`UPDATE summary_nodes SET staleness_counter = staleness_counter + 1,
			        events_covered = events_covered + 1 WHERE id=?`, nodeID); err != nil {
			return fault.Wrap(fault.KindStoreWrite, err, "bump staleness")
		}
		nodeID = parent
	}
	return nil
}

// StaleNodes returns nodes with staleness ≥ threshold, most stale
// first, capped at batch.
func (m *MemoryStore) StaleNodes(threshold, batch int) ([]SummaryNode, error) {
	rows, err := m.db.Query(
		`SELECT id, COALESCE(parent_id,''), scope, scope_key, content, staleness_counter, events_covered
		 FROM summary_nodes WHERE staleness_counter >= ?
		 ORDER BY staleness_counter DESC LIMIT ?`, threshold, batch)
	if err != nil {
		return nil, fmt.Errorf("stale nodes: %w", err)
	}
	defer rows.Close()

	var out []SummaryNode
	for rows.Next() {
		var n SummaryNode
		if err := rows.Scan(&n.ID, &n.ParentID, &n.Scope, &n.ScopeKey, &n.Content, &n.StalenessCounter, &n.EventsCovered); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// RefreshSummary writes regenerated content and clears staleness.
func (m *MemoryStore) RefreshSummary(nodeID, content string) error {
	_, err := m.db.Exec(
		`UPDATE summary_nodes SET content=?, staleness_counter=0 WHERE id=?`, content, nodeID)
	return fault.Wrap(fault.KindStoreWrite, err, "refresh summary %s", nodeID)
}

// --- learnings ---

func (m *MemoryStore) InsertLearning(l Learning) (string, error) {
	if l.ID == "" {
		l.ID = NewID()
	}
	if l.RelevanceScore == 0 {
		l.RelevanceScore = 1.0
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	_, err := m.db.Exec(
		`INSERT INTO learnings (id, owner_bot, text, category, confidence, relevance_score, source, created_at, last_used_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.OwnerBot, l.Text, l.Category, l.Confidence, l.RelevanceScore,
		l.Source, l.CreatedAt.UnixMilli(), l.CreatedAt.UnixMilli())
	return l.ID, fault.Wrap(fault.KindStoreWrite, err, "insert learning")
}

func (m *MemoryStore) GetLearning(id string) (*Learning, error) {
	row := m.db.QueryRow(
		`SELECT id, owner_bot, text, category, confidence, relevance_score, source, created_at, last_used_at
		 FROM learnings WHERE id=?`, id)
	var l Learning
	var created, used int64
	err := row.Scan(&l.ID, &l.OwnerBot, &l.Text, &l.Category, &l.Confidence, &l.RelevanceScore, &l.Source, &created, &used)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.CreatedAt = msToTime(created)
	l.LastUsedAt = msToTime(used)
	return &l, nil
}

// LearningsByOwner returns a bot's learnings ranked by decayed
// relevance. Decay halves the stored score every halfLife since last
// use; access via TouchLearning boosts it back.
func (m *MemoryStore) LearningsByOwner(ownerBot string, halfLife time.Duration, limit int) ([]Learning, error) {
	rows, err := m.db.Query(
		`SELECT id, owner_bot, text, category, confidence, relevance_score, source, created_at, last_used_at
		 FROM learnings WHERE owner_bot=?`, ownerBot)
	if err != nil {
		return nil, fmt.Errorf("learnings for %s: %w", ownerBot, err)
	}
	defer rows.Close()

	now := time.Now()
	var out []Learning
	for rows.Next() {
		var l Learning
		var created, used int64
		if err := rows.Scan(&l.ID, &l.OwnerBot, &l.Text, &l.Category, &l.Confidence, &l.RelevanceScore, &l.Source, &created, &used); err != nil {
			return nil, err
		}
		l.CreatedAt = msToTime(created)
		l.LastUsedAt = msToTime(used)
		l.RelevanceScore = DecayedRelevance(l.RelevanceScore, l.LastUsedAt, now, halfLife)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelevanceScore > out[j].RelevanceScore })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TouchLearning boosts relevance by the configured fraction and
// updates last_used_at.
func (m *MemoryStore) TouchLearning(id string, boost float64) error {
	_, err := m.db.Exec(
		`UPDATE learnings SET relevance_score = MIN(1.0, relevance_score + ?), last_used_at = ? WHERE id = ?`,
		boost, nowMS(), id)
	return fault.Wrap(fault.KindStoreWrite, err, "touch learning %s", id)
}

// DecayedRelevance applies exponential half-life decay to a score.
func DecayedRelevance(score float64, lastUsed, now time.Time, halfLife time.Duration) float64 {
	if halfLife <= 0 || lastUsed.IsZero() || !now.After(lastUsed) {
		return score
	}
	elapsed := now.Sub(lastUsed).Hours()
	return score * math.Pow(0.5, elapsed/halfLife.Hours())
}

// --- doctor ---

// DoctorReport summarizes integrity findings.
type DoctorReport struct {
	OrphanEdges        int
	EmbeddingDimErrors int
	SummaryOrphans     int
	PendingEvents      int
}

// Doctor runs the integrity pass: edges referencing missing entities,
// embedding blobs with the wrong dimension, summary nodes whose
// parent is gone.
func (m *MemoryStore) Doctor(embeddingDim int) (*DoctorReport, error) {
	rep := &DoctorReport{}

	row := m.db.QueryRow(`SELECT COUNT(*) FROM edges e
		WHERE NOT EXISTS (SELECT 1 FROM entities WHERE id = e.subject_entity)
		   OR NOT EXISTS (SELECT 1 FROM entities WHERE id = e.object_entity)`)
	if err := row.Scan(&rep.OrphanEdges); err != nil {
		return nil, err
	}

	row = m.db.QueryRow(`SELECT COUNT(*) FROM events
		WHERE embedding IS NOT NULL AND LENGTH(embedding) > 0 AND LENGTH(embedding) != ?`, embeddingDim*4)
	if err := row.Scan(&rep.EmbeddingDimErrors); err != nil {
		return nil, err
	}

	row = m.db.QueryRow(`SELECT COUNT(*) FROM summary_nodes s
		WHERE s.parent_id IS NOT NULL
		  AND NOT EXISTS (SELECT 1 FROM summary_nodes WHERE id = s.parent_id)`)
	if err := row.Scan(&rep.SummaryOrphans); err != nil {
		return nil, err
	}

	row = m.db.QueryRow(`SELECT COUNT(*) FROM events WHERE extraction_status = ?`, ExtractionPending)
	if err := row.Scan(&rep.PendingEvents); err != nil {
		return nil, err
	}
	return rep, nil
}

// Stats reports row counts per table.
func (m *MemoryStore) Stats() (map[string]int, error) {
	out := make(map[string]int)
	for _, table := range []string{"events", "entities", "edges", "facts", "summary_nodes", "learnings"} {
		var n int
		if err := m.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		out[table] = n
	}
	return out, nil
}

func mergeStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
