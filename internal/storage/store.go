// Package storage persists the pipeline's domain records. Domain data
// (teams, config, snapshots, anomalies, insights) lives in an
// ObjectStore under a hierarchical keyspace; run records and the
// delivery ledger live in sqlite so a restart can see in-flight runs.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cost-sentinel/cost-sentinel/internal/provider"
	"github.com/cost-sentinel/cost-sentinel/pkg/models"
)

const (
	configKey  = "config/notification.json"
	teamsKey   = "teams/teams.json"
	costPrefix = "costs/"
)

func costKey(period models.Period, accountID string) string {
	return fmt.Sprintf("costs/%s/%s.json", period, accountID)
}

func anomaliesKey(period models.Period) string {
	return fmt.Sprintf("anomalies/%s.json", period)
}

func insightKey(period models.Period, accountID string) string {
	return fmt.Sprintf("insights/%s/%s.json", period, accountID)
}

// Store provides typed access over an ObjectStore.
type Store struct {
	objects provider.ObjectStore
}

// New creates a Store over the given object store.
func New(objects provider.ObjectStore) *Store {
	return &Store{objects: objects}
}

func (s *Store) getJSON(ctx context.Context, key string, v any) error {
	data, err := s.objects.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("corrupt object at %s: %w", key, err)
	}
	return nil
}

func (s *Store) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode object for %s: %w", key, err)
	}
	return s.objects.Put(ctx, key, data)
}

// GetConfig returns the notification config, writing and returning the
// default when none exists yet.
func (s *Store) GetConfig(ctx context.Context) (models.NotificationConfig, error) {
	var cfg models.NotificationConfig
	err := s.getJSON(ctx, configKey, &cfg)
	if provider.IsNotFound(err) {
		cfg = models.DefaultNotificationConfig()
		cfg.UpdatedAt = time.Now().UTC()
		if err := s.putJSON(ctx, configKey, cfg); err != nil {
			return models.NotificationConfig{}, err
		}
		return cfg, nil
	}
	if err != nil {
		return models.NotificationConfig{}, err
	}
	return cfg, nil
}

// SaveConfig validates and persists a new config version.
func (s *Store) SaveConfig(ctx context.Context, cfg models.NotificationConfig) (models.NotificationConfig, error) {
	if err := cfg.Validate(); err != nil {
		return models.NotificationConfig{}, err
	}
	current, err := s.GetConfig(ctx)
	if err != nil {
		return models.NotificationConfig{}, err
	}
	cfg.Version = current.Version + 1
	cfg.UpdatedAt = time.Now().UTC()
	if err := s.putJSON(ctx, configKey, cfg); err != nil {
		return models.NotificationConfig{}, err
	}
	return cfg, nil
}

type teamsDoc struct {
	Teams     []models.Team `json:"teams"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// ListTeams returns all registered teams.
func (s *Store) ListTeams(ctx context.Context) ([]models.Team, error) {
	var doc teamsDoc
	err := s.getJSON(ctx, teamsKey, &doc)
	if provider.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.Teams, nil
}

func (s *Store) saveTeams(ctx context.Context, teams []models.Team) error {
	return s.putJSON(ctx, teamsKey, teamsDoc{Teams: teams, UpdatedAt: time.Now().UTC()})
}

// AddTeam registers a team. Account IDs are unique across teams.
func (s *Store) AddTeam(ctx context.Context, team models.Team) (models.Team, error) {
	if err := team.Validate(); err != nil {
		return models.Team{}, err
	}

	teams, err := s.ListTeams(ctx)
	if err != nil {
		return models.Team{}, err
	}
	for _, existing := range teams {
		if existing.AccountID == team.AccountID {
			return models.Team{}, fmt.Errorf("account %s is already registered to team %q", team.AccountID, existing.DisplayName)
		}
	}

	if team.ID == "" {
		team.ID = "team-" + uuid.New().String()[:8]
	}
	team.CreatedAt = time.Now().UTC()

	teams = append(teams, team)
	if err := s.saveTeams(ctx, teams); err != nil {
		return models.Team{}, err
	}
	return team, nil
}

// GetTeam returns a team by ID.
func (s *Store) GetTeam(ctx context.Context, id string) (*models.Team, error) {
	teams, err := s.ListTeams(ctx)
	if err != nil {
		return nil, err
	}
	for i := range teams {
		if teams[i].ID == id {
			return &teams[i], nil
		}
	}
	return nil, provider.ErrNotFound
}

// GetTeamByAccount returns a team by account ID.
func (s *Store) GetTeamByAccount(ctx context.Context, accountID string) (*models.Team, error) {
	teams, err := s.ListTeams(ctx)
	if err != nil {
		return nil, err
	}
	for i := range teams {
		if teams[i].AccountID == accountID {
			return &teams[i], nil
		}
	}
	return nil, provider.ErrNotFound
}

// RemoveTeam deletes a team by ID. Persisted snapshots keep the
// denormalized team name, so history survives removal.
func (s *Store) RemoveTeam(ctx context.Context, id string) error {
	teams, err := s.ListTeams(ctx)
	if err != nil {
		return err
	}
	kept := teams[:0]
	found := false
	for _, t := range teams {
		if t.ID == id {
			found = true
			continue
		}
		kept = append(kept, t)
	}
	if !found {
		return provider.ErrNotFound
	}
	return s.saveTeams(ctx, kept)
}

// SaveSnapshot upserts the snapshot for its (account, period) key.
func (s *Store) SaveSnapshot(ctx context.Context, snap *models.CostSnapshot) error {
	return s.putJSON(ctx, costKey(snap.Period, snap.AccountID), snap)
}

// GetSnapshot returns the snapshot for an account and period, or
// provider.ErrNotFound.
func (s *Store) GetSnapshot(ctx context.Context, period models.Period, accountID string) (*models.CostSnapshot, error) {
	var snap models.CostSnapshot
	if err := s.getJSON(ctx, costKey(period, accountID), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

type anomaliesDoc struct {
	Period    models.Period    `json:"period"`
	Anomalies []models.Anomaly `json:"anomalies"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// SaveAnomaly records an anomaly result for its period, replacing any
// earlier entry for the same account. The per-period collection grows
// by at most one entry per account regardless of how many times a
// period is re-run.
func (s *Store) SaveAnomaly(ctx context.Context, anomaly *models.Anomaly) error {
	key := anomaliesKey(anomaly.Period)

	var doc anomaliesDoc
	err := s.getJSON(ctx, key, &doc)
	if err != nil && !provider.IsNotFound(err) {
		return err
	}
	doc.Period = anomaly.Period

	replaced := false
	for i := range doc.Anomalies {
		if doc.Anomalies[i].AccountID == anomaly.AccountID {
			doc.Anomalies[i] = *anomaly
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Anomalies = append(doc.Anomalies, *anomaly)
	}
	doc.UpdatedAt = time.Now().UTC()

	return s.putJSON(ctx, key, doc)
}

// GetAnomalies returns the anomaly collection for a period.
func (s *Store) GetAnomalies(ctx context.Context, period models.Period) ([]models.Anomaly, error) {
	var doc anomaliesDoc
	err := s.getJSON(ctx, anomaliesKey(period), &doc)
	if provider.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.Anomalies, nil
}

// SaveInsight upserts the insight for its (account, period) key.
func (s *Store) SaveInsight(ctx context.Context, insight *models.Insight) error {
	return s.putJSON(ctx, insightKey(insight.Period, insight.AccountID), insight)
}

// GetInsight returns the insight for an account and period, or
// provider.ErrNotFound when the AI call never succeeded.
func (s *Store) GetInsight(ctx context.Context, period models.Period, accountID string) (*models.Insight, error) {
	var insight models.Insight
	if err := s.getJSON(ctx, insightKey(period, accountID), &insight); err != nil {
		return nil, err
	}
	return &insight, nil
}

// HistoryQuery filters CostHistory results.
type HistoryQuery struct {
	AccountID string
	Period    *models.Period
	Limit     int
}

// CostHistory returns persisted snapshots, newest period first.
func (s *Store) CostHistory(ctx context.Context, q HistoryQuery) ([]models.CostSnapshot, error) {
	prefix := costPrefix
	if q.Period != nil {
		prefix = fmt.Sprintf("costs/%s/", q.Period)
	}

	keys, err := s.objects.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var out []models.CostSnapshot
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		var snap models.CostSnapshot
		if err := s.getJSON(ctx, key, &snap); err != nil {
			if provider.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if q.AccountID != "" && snap.AccountID != q.AccountID {
			continue
		}
		out = append(out, snap)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Period != out[j].Period {
			return out[i].Period.String() > out[j].Period.String()
		}
		return out[i].AccountID < out[j].AccountID
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
