package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/goflock/internal/config"
	"github.com/nextlevelbuilder/goflock/internal/providers"
	"github.com/nextlevelbuilder/goflock/internal/store"
)

// preference summaries live in a topic node pinned under the root.
const preferencesKey = "user_preferences"

// RecallResult is the ranked context mix returned by Recall.
type RecallResult struct {
	Preferences    string
	Entities       []store.ScoredEntity
	Facts          []store.Fact
	ChannelSummary string
	Learnings      []store.Learning
}

// Service owns ingestion, extraction, recall, and the summary tree.
// Writes are serialized by the single background extractor loop.
type Service struct {
	store     *store.MemoryStore
	embedder  Embedder
	extractor Extractor
	provider  providers.Provider
	cfg       config.MemoryConfig
	log       *slog.Logger

	// OnLearning fires after a learning is stored; the learning
	// exchange hooks promotion here.
	OnLearning func(store.Learning)
}

func NewService(st *store.MemoryStore, embedder Embedder, extractor Extractor, provider providers.Provider, cfg config.MemoryConfig, log *slog.Logger) *Service {
	return &Service{
		store:     st,
		embedder:  embedder,
		extractor: extractor,
		provider:  provider,
		cfg:       cfg,
		log:       log.With("component", "memory"),
	}
}

func (s *Service) halfLife() time.Duration {
	days := s.cfg.DecayHalfLifeDays
	if days <= 0 {
		days = 14
	}
	return time.Duration(days * 24 * float64(time.Hour))
}

// Ingest stores one event with its embedding and bumps the staleness
// of the covering summary nodes. Extraction happens later in the
// background loop.
func (s *Service) Ingest(ctx context.Context, content, sourceBot, channel string, confidence float64) error {
	vecs, err := s.embedder.Embed(ctx, []string{content})
	if err != nil {
		return fmt.Errorf("embed event: %w", err)
	}
	_, err = s.store.InsertEvent(store.Event{
		Content:    content,
		SourceBot:  sourceBot,
		Channel:    channel,
		Timestamp:  time.Now(),
		Confidence: confidence,
		Embedding:  vecs[0],
	})
	if err != nil {
		return err
	}

	node, err := s.channelNode(channel)
	if err != nil {
		return err
	}
	return s.store.BumpStaleness(node.ID)
}

// channelNode ensures root -> channel chain exists.
func (s *Service) channelNode(channel string) (*store.SummaryNode, error) {
	root, err := s.store.EnsureSummaryNode(store.ScopeRoot, "", "")
	if err != nil {
		return nil, err
	}
	return s.store.EnsureSummaryNode(store.ScopeChannel, channel, root.ID)
}

// Run drives the background extractor and summary refresher until the
// context is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.ExtractPending(ctx, 20); err != nil {
				s.log.Warn("extraction cycle failed", "error", err)
			} else if n > 0 {
				s.log.Debug("extracted events", "count", n)
			}
			if n, err := s.RefreshSummaries(ctx); err != nil {
				s.log.Warn("summary refresh failed", "error", err)
			} else if n > 0 {
				s.log.Debug("refreshed summaries", "count", n)
			}
		}
	}
}

// ExtractPending drains up to limit pending events through the
// extractor and writes the resulting entities, edges, and facts.
func (s *Service) ExtractPending(ctx context.Context, limit int) (int, error) {
	events, err := s.store.PendingEvents(limit)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, ev := range events {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if !ShouldExtract(ev.Content) {
			s.store.MarkExtracted(ev.ID, store.ExtractionDone)
			done++
			continue
		}
		if err := s.extractOne(ctx, ev); err != nil {
			s.log.Warn("event extraction failed", "event", ev.ID, "error", err)
			s.store.MarkExtracted(ev.ID, store.ExtractionFailed)
			continue
		}
		s.store.MarkExtracted(ev.ID, store.ExtractionDone)
		done++
	}
	return done, nil
}

func (s *Service) extractOne(ctx context.Context, ev store.Event) error {
	extraction, err := s.extractor.Extract(ctx, ev.Content)
	if err != nil {
		return err
	}

	// Resolve each extracted entity to an id, deduplicating by
	// normalized name first, then by embedding similarity.
	ids := make(map[string]string, len(extraction.Entities))
	for _, ent := range extraction.Entities {
		id, err := s.resolveEntity(ctx, ent)
		if err != nil {
			return err
		}
		ids[store.NormalizeName(ent.Name)] = id
	}

	for _, rel := range extraction.Edges {
		subj, okS := ids[store.NormalizeName(rel.Subject)]
		obj, okO := ids[store.NormalizeName(rel.Object)]
		if !okS || !okO {
			continue
		}
		if err := s.store.UpsertEdge(store.Edge{
			SubjectEntity:  subj,
			Predicate:      rel.Predicate,
			ObjectEntity:   obj,
			Confidence:     rel.Confidence,
			EvidenceEvents: []string{ev.ID},
		}); err != nil {
			return err
		}
	}

	for _, f := range extraction.Facts {
		if err := s.store.UpsertFact(store.Fact{
			Subject:    f.Subject,
			Predicate:  f.Predicate,
			Object:     f.Object,
			Confidence: f.Confidence,
			Source:     ev.SourceBot,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) resolveEntity(ctx context.Context, ent ExtractedEntity) (string, error) {
	if existing, err := s.store.FindEntityByName(ent.Name); err != nil {
		return "", err
	} else if existing != nil {
		return existing.ID, s.store.TouchEntity(existing.ID, ent.Name)
	}

	vecs, err := s.embedder.Embed(ctx, []string{ent.Name})
	if err != nil {
		return "", err
	}
	threshold := s.cfg.DedupeThreshold
	if threshold <= 0 {
		threshold = 0.9
	}
	similar, err := s.store.SearchSimilarEntities(vecs[0], 1, threshold)
	if err != nil {
		return "", err
	}
	if len(similar) > 0 {
		id := similar[0].Entity.ID
		return id, s.store.TouchEntity(id, ent.Name)
	}

	return s.store.InsertEntity(store.Entity{
		CanonicalName: ent.Name,
		Type:          ent.Type,
		Embedding:     vecs[0],
	})
}

// RefreshSummaries regenerates stale summary nodes from recent events.
func (s *Service) RefreshSummaries(ctx context.Context) (int, error) {
	threshold := s.cfg.SummaryStaleness
	if threshold <= 0 {
		threshold = 10
	}
	batch := s.cfg.SummaryRefreshBatch
	if batch <= 0 {
		batch = 20
	}

	nodes, err := s.store.StaleNodes(threshold, batch)
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for _, node := range nodes {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}
		if err := s.refreshNode(ctx, node); err != nil {
			s.log.Warn("node refresh failed", "node", node.ID, "scope", node.Scope, "error", err)
			continue
		}
		refreshed++
	}
	return refreshed, nil
}

func (s *Service) refreshNode(ctx context.Context, node store.SummaryNode) error {
	events, err := s.coveredEvents(node)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return s.store.RefreshSummary(node.ID, node.Content)
	}

	var sb strings.Builder
	for _, ev := range events {
		sb.WriteString("- ")
		sb.WriteString(ev.Content)
		sb.WriteString("\n")
	}

	scope := node.Scope
	if node.ScopeKey != "" {
		scope = scope + " " + node.ScopeKey
	}
	resp, err := s.provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: "Summarize the following team activity into a compact knowledge summary for scope '" + scope + "'. Keep stable facts, drop chit-chat. A few sentences, no preamble."},
			{Role: "user", Content: sb.String()},
		},
		MaxTokens: 512,
	})
	if err != nil {
		return err
	}
	return s.store.RefreshSummary(node.ID, strings.TrimSpace(resp.Content))
}

// coveredEvents selects the events a node summarizes: channel nodes
// see only their channel, every other scope sees the whole stream.
func (s *Service) coveredEvents(node store.SummaryNode) ([]store.Event, error) {
	if node.Scope == store.ScopeChannel {
		return s.store.RecentEventsByChannel(node.ScopeKey, 50)
	}
	return s.store.RecentEvents(50)
}

// Recall returns the ranked context mix for a query: pinned user
// preferences, similar entities, their facts, the channel summary,
// and the bot's own decayed learnings.
func (s *Service) Recall(ctx context.Context, query, channel, botName string, k int) (*RecallResult, error) {
	if k <= 0 {
		k = 5
	}
	out := &RecallResult{}

	if prefs, err := s.store.GetSummaryNode(store.ScopeTopic, preferencesKey); err == nil && prefs != nil {
		out.Preferences = prefs.Content
	}
	if channel != "" {
		if node, err := s.store.GetSummaryNode(store.ScopeChannel, channel); err == nil && node != nil {
			out.ChannelSummary = node.Content
		}
	}

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	entities, err := s.store.SearchSimilarEntities(vecs[0], k, 0.1)
	if err != nil {
		return nil, err
	}
	out.Entities = entities

	subjects := make([]string, 0, len(entities))
	for _, e := range entities {
		subjects = append(subjects, e.Entity.CanonicalName)
	}
	if len(subjects) > 0 {
		facts, err := s.store.FactsForSubjects(subjects)
		if err != nil {
			return nil, err
		}
		out.Facts = facts
	}

	if botName != "" {
		learnings, err := s.store.LearningsByOwner(botName, s.halfLife(), k)
		if err != nil {
			return nil, err
		}
		out.Learnings = learnings
	}
	return out, nil
}

// Format renders the recall result as the memory block placed in the
// system context. Empty sections are omitted.
func (r *RecallResult) Format() string {
	var sb strings.Builder
	if r.Preferences != "" {
		sb.WriteString("User preferences:\n")
		sb.WriteString(r.Preferences)
		sb.WriteString("\n\n")
	}
	if r.ChannelSummary != "" {
		sb.WriteString("Channel summary:\n")
		sb.WriteString(r.ChannelSummary)
		sb.WriteString("\n\n")
	}
	if len(r.Entities) > 0 {
		sb.WriteString("Known entities:\n")
		for _, e := range r.Entities {
			sb.WriteString(fmt.Sprintf("- %s (%s)\n", e.Entity.CanonicalName, e.Entity.Type))
		}
		sb.WriteString("\n")
	}
	if len(r.Facts) > 0 {
		sb.WriteString("Relevant facts:\n")
		for _, f := range r.Facts {
			sb.WriteString(fmt.Sprintf("- %s %s %s\n", f.Subject, f.Predicate, f.Object))
		}
		sb.WriteString("\n")
	}
	if len(r.Learnings) > 0 {
		sb.WriteString("Your learnings:\n")
		for _, l := range r.Learnings {
			sb.WriteString("- ")
			sb.WriteString(l.Text)
			sb.WriteString("\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// RecordLearning stores a new private learning with full relevance
// and notifies the exchange hook.
func (s *Service) RecordLearning(ownerBot, text, category string, confidence float64) (*store.Learning, error) {
	l := store.Learning{
		OwnerBot:       ownerBot,
		Text:           text,
		Category:       category,
		Confidence:     confidence,
		RelevanceScore: 1.0,
		Source:         store.LearningSourceUserFeedback,
	}
	id, err := s.store.InsertLearning(l)
	if err != nil {
		return nil, err
	}
	l.ID = id
	if s.OnLearning != nil {
		s.OnLearning(l)
	}
	return &l, nil
}

// ReceiveLearning stores a learning distributed by the exchange. The
// receiver's decay curve starts fresh at relevance 1.0.
func (s *Service) ReceiveLearning(ownerBot, text, category string, confidence float64) error {
	_, err := s.store.InsertLearning(store.Learning{
		OwnerBot:       ownerBot,
		Text:           text,
		Category:       category,
		Confidence:     confidence,
		RelevanceScore: 1.0,
		Source:         store.LearningSourceExchange,
	})
	return err
}

// TouchLearning boosts a used learning's relevance by the configured
// fraction.
func (s *Service) TouchLearning(id string) error {
	boost := s.cfg.AccessBoost
	if boost <= 0 {
		boost = 0.1
	}
	return s.store.TouchLearning(id, boost)
}

// Flush is the pre-compaction hook: drain pending extraction and
// force the preferences summary current before history is folded.
func (s *Service) Flush(ctx context.Context) error {
	if _, err := s.ExtractPending(ctx, 50); err != nil {
		return err
	}
	root, err := s.store.EnsureSummaryNode(store.ScopeRoot, "", "")
	if err != nil {
		return err
	}
	prefs, err := s.store.EnsureSummaryNode(store.ScopeTopic, preferencesKey, root.ID)
	if err != nil {
		return err
	}
	if prefs.StalenessCounter == 0 {
		return nil
	}
	return s.refreshNode(ctx, *prefs)
}
