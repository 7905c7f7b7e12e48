// Package remote reads and writes the shared OxiDB document store that all
// field nodes reconcile against.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/parisxmas/OxiDB/OxiField/internal/db"
	"github.com/parisxmas/OxiDB/OxiField/internal/models"
	"github.com/parisxmas/OxiDB/OxiField/internal/oxidb"
)

const (
	SurveysCollection     = "_gnd_surveys"
	LOIsCollection        = "_gnd_lois"
	SubmissionsCollection = "_gnd_submissions"

	maxConflictRetries = 3
)

// ErrInvalidDocument marks a stored document that cannot be turned into a
// model. It is reported per item so one bad document does not hide the rest.
var ErrInvalidDocument = errors.New("invalid remote document")

type surveyDoc struct {
	SurveyID    string       `json:"surveyId"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Jobs        []models.Job `json:"jobs"`
}

type loiDoc struct {
	LOIID     string  `json:"loiId"`
	SurveyID  string  `json:"surveyId"`
	JobID     string  `json:"jobId"`
	Name      string  `json:"name,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type submissionDoc struct {
	SubmissionID string           `json:"submissionId"`
	SurveyID     string           `json:"surveyId"`
	LOIID        string           `json:"loiId"`
	JobID        string           `json:"jobId"`
	TaskID       string           `json:"taskId"`
	Responses    models.Responses `json:"responses"`
	Created      models.AuditInfo `json:"created"`
	LastModified models.AuditInfo `json:"lastModified"`
}

// Store is the OxiDB-backed remote data store.
type Store struct {
	pool   *db.Pool
	logger *slog.Logger
	now    func() time.Time
}

func NewStore(pool *db.Pool, logger *slog.Logger) *Store {
	return &Store{pool: pool, logger: logger, now: time.Now}
}

// EnsureIndexes creates the lookup indexes the node relies on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	c, err := s.pool.Get()
	if err != nil {
		return err
	}
	if err := c.CreateUniqueIndex(ctx, SurveysCollection, "surveyId"); err != nil {
		return err
	}
	if err := c.CreateUniqueIndex(ctx, LOIsCollection, "loiId"); err != nil {
		return err
	}
	if err := c.CreateIndex(ctx, LOIsCollection, "surveyId"); err != nil {
		return err
	}
	if err := c.CreateUniqueIndex(ctx, SubmissionsCollection, "submissionId"); err != nil {
		return err
	}
	return c.CreateCompositeIndex(ctx, SubmissionsCollection, []string{"surveyId", "loiId"})
}

// Ping reports whether the remote store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// LoadSubmissions fetches every submission of a LOI. The call fails as a
// whole only if the query fails; documents that cannot be converted are
// returned as per-item errors.
func (s *Store) LoadSubmissions(ctx context.Context, loi *models.LocationOfInterest) ([]models.ValueOrError[models.Submission], error) {
	c, err := s.pool.Get()
	if err != nil {
		return nil, err
	}
	docs, err := c.Find(ctx, SubmissionsCollection, map[string]any{
		"surveyId": loi.SurveyID,
		"loiId":    loi.ID,
	}, &oxidb.FindOptions{Sort: map[string]any{"created.clientTimestamp": 1}})
	if err != nil {
		return nil, fmt.Errorf("load submissions of %s: %w", loi.ID, err)
	}

	out := make([]models.ValueOrError[models.Submission], 0, len(docs))
	for _, d := range docs {
		sub, err := docToSubmission(d, loi)
		if err != nil {
			out = append(out, models.Error[models.Submission](err))
			continue
		}
		out = append(out, models.Value(*sub))
	}
	return out, nil
}

func docToSubmission(doc map[string]any, loi *models.LocationOfInterest) (*models.Submission, error) {
	sd, err := fromDoc[submissionDoc](doc)
	if err != nil {
		return nil, fmt.Errorf("submission doc %s: %w: %v", docID(doc), ErrInvalidDocument, err)
	}
	if sd.SubmissionID == "" {
		return nil, fmt.Errorf("submission doc %s: %w: missing submissionId", docID(doc), ErrInvalidDocument)
	}
	task, ok := loi.Job.Task(sd.TaskID)
	if !ok {
		return nil, fmt.Errorf("submission %s: %w: task %q not in job %q",
			sd.SubmissionID, ErrInvalidDocument, sd.TaskID, loi.Job.ID)
	}
	responses := sd.Responses
	if responses == nil {
		responses = models.Responses{}
	}
	return &models.Submission{
		ID:                 sd.SubmissionID,
		SurveyID:           loi.SurveyID,
		LocationOfInterest: *loi,
		Task:               task,
		Responses:          responses,
		Created:            sd.Created,
		LastModified:       sd.LastModified,
	}, nil
}

// ApplyMutations delivers a batch of mutations made by user in a single
// OxiDB transaction. Mutations of the same submission are folded in order
// before anything is written, so each document is written at most once.
func (s *Store) ApplyMutations(ctx context.Context, user *models.User, mutations []models.SubmissionMutation) error {
	if len(mutations) == 0 {
		return nil
	}
	c, err := s.pool.Get()
	if err != nil {
		return err
	}

	var order []string
	bySubmission := make(map[string][]models.SubmissionMutation)
	for _, m := range mutations {
		if m.UserID != user.ID {
			return fmt.Errorf("apply mutations: mutation %d belongs to %s, not %s", m.ID, m.UserID, user.ID)
		}
		if _, ok := bySubmission[m.SubmissionID]; !ok {
			order = append(order, m.SubmissionID)
		}
		bySubmission[m.SubmissionID] = append(bySubmission[m.SubmissionID], m)
	}

	serverTime := s.now().UTC()
	for attempt := 1; ; attempt++ {
		err = c.WithTransaction(ctx, func() error {
			for _, id := range order {
				if err := s.applySubmission(ctx, c, id, bySubmission[id], serverTime); err != nil {
					return err
				}
			}
			return nil
		})
		if !oxidb.IsConflict(err) || attempt == maxConflictRetries {
			return err
		}
		s.logger.Warn("remote: transaction conflict, retrying", "attempt", attempt, "error", err)
	}
}

func (s *Store) applySubmission(ctx context.Context, c *oxidb.Client, id string, muts []models.SubmissionMutation, serverTime time.Time) error {
	query := map[string]any{"submissionId": id}
	existing, err := c.FindOne(ctx, SubmissionsCollection, query)
	if err != nil {
		return fmt.Errorf("apply mutations to %s: %w", id, err)
	}

	var sd *submissionDoc
	if existing != nil {
		if sd, err = fromDoc[submissionDoc](existing); err != nil {
			return fmt.Errorf("apply mutations to %s: %w", id, err)
		}
	}
	deleted := false
	for _, m := range muts {
		audit := models.AuditInfo{UserID: m.UserID, ClientTimestamp: m.ClientTimestamp, ServerTimestamp: serverTime}
		if m.Type == models.MutationDelete {
			deleted = true
			continue
		}
		if deleted && m.Type != models.MutationCreate {
			// Only a create can bring a deleted submission back.
			continue
		}
		if sd == nil || deleted {
			// Creates and updates both upsert: an update can reach the
			// server before the create it follows was ever delivered.
			sd = &submissionDoc{
				SubmissionID: id,
				SurveyID:     m.SurveyID,
				LOIID:        m.LocationOfInterestID,
				JobID:        m.JobID,
				TaskID:       m.TaskID,
				Created:      audit,
			}
			deleted = false
		}
		sd.Responses = sd.Responses.Apply(m.ResponseDeltas)
		sd.LastModified = audit
	}

	switch {
	case deleted:
		if existing == nil {
			return nil
		}
		_, err = c.DeleteOne(ctx, SubmissionsCollection, query)
	case existing != nil:
		var doc map[string]any
		if doc, err = toDoc(sd); err == nil {
			_, err = c.UpdateOne(ctx, SubmissionsCollection, query, map[string]any{"$set": doc})
		}
	default:
		var doc map[string]any
		if doc, err = toDoc(sd); err == nil {
			_, err = c.Insert(ctx, SubmissionsCollection, doc)
		}
	}
	if err != nil {
		return fmt.Errorf("apply mutations to %s: %w", id, err)
	}
	s.logger.Debug("remote: submission written", "submission", id, "mutations", len(muts), "deleted", deleted)
	return nil
}

// LoadSurvey fetches a survey definition, or nil if the store has none.
func (s *Store) LoadSurvey(ctx context.Context, surveyID string) (*models.Survey, error) {
	c, err := s.pool.Get()
	if err != nil {
		return nil, err
	}
	doc, err := c.FindOne(ctx, SurveysCollection, map[string]any{"surveyId": surveyID})
	if err != nil {
		return nil, fmt.Errorf("load survey %s: %w", surveyID, err)
	}
	if doc == nil {
		return nil, nil
	}
	sd, err := fromDoc[surveyDoc](doc)
	if err != nil {
		return nil, fmt.Errorf("survey %s: %w: %v", surveyID, ErrInvalidDocument, err)
	}
	return &models.Survey{ID: sd.SurveyID, Title: sd.Title, Description: sd.Description, Jobs: sd.Jobs}, nil
}

// LoadLocationsOfInterest fetches the LOIs of a survey. LOIs referring to a
// job the survey does not define are logged and skipped.
func (s *Store) LoadLocationsOfInterest(ctx context.Context, survey *models.Survey) ([]models.LocationOfInterest, error) {
	c, err := s.pool.Get()
	if err != nil {
		return nil, err
	}
	docs, err := c.Find(ctx, LOIsCollection, map[string]any{"surveyId": survey.ID}, nil)
	if err != nil {
		return nil, fmt.Errorf("load locations of interest of %s: %w", survey.ID, err)
	}
	lois := make([]models.LocationOfInterest, 0, len(docs))
	for _, d := range docs {
		ld, err := fromDoc[loiDoc](d)
		if err != nil {
			s.logger.Warn("remote: skipping location of interest", "doc", docID(d), "error", err)
			continue
		}
		job, ok := survey.Job(ld.JobID)
		if !ok {
			s.logger.Warn("remote: skipping location of interest with unknown job", "loi", ld.LOIID, "job", ld.JobID)
			continue
		}
		lois = append(lois, models.LocationOfInterest{
			ID:        ld.LOIID,
			SurveyID:  ld.SurveyID,
			Job:       job,
			Name:      ld.Name,
			Latitude:  ld.Latitude,
			Longitude: ld.Longitude,
		})
	}
	return lois, nil
}

// SaveSurvey creates or replaces a survey definition.
func (s *Store) SaveSurvey(ctx context.Context, survey *models.Survey) error {
	doc, err := toDoc(surveyDoc{SurveyID: survey.ID, Title: survey.Title, Description: survey.Description, Jobs: survey.Jobs})
	if err != nil {
		return err
	}
	return s.upsert(ctx, SurveysCollection, map[string]any{"surveyId": survey.ID}, doc)
}

// SaveLocationOfInterest creates or replaces a LOI.
func (s *Store) SaveLocationOfInterest(ctx context.Context, loi *models.LocationOfInterest) error {
	doc, err := toDoc(loiDoc{
		LOIID: loi.ID, SurveyID: loi.SurveyID, JobID: loi.Job.ID,
		Name: loi.Name, Latitude: loi.Latitude, Longitude: loi.Longitude,
	})
	if err != nil {
		return err
	}
	return s.upsert(ctx, LOIsCollection, map[string]any{"loiId": loi.ID}, doc)
}

// InsertSubmissions bulk-inserts new submissions with one round trip.
func (s *Store) InsertSubmissions(ctx context.Context, subs []models.Submission) error {
	if len(subs) == 0 {
		return nil
	}
	docs := make([]map[string]any, 0, len(subs))
	for i := range subs {
		sub := &subs[i]
		doc, err := toDoc(submissionDoc{
			SubmissionID: sub.ID,
			SurveyID:     sub.SurveyID,
			LOIID:        sub.LocationOfInterest.ID,
			JobID:        sub.LocationOfInterest.Job.ID,
			TaskID:       sub.Task.ID,
			Responses:    sub.Responses,
			Created:      sub.Created,
			LastModified: sub.LastModified,
		})
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	c, err := s.pool.Get()
	if err != nil {
		return err
	}
	if _, err := c.InsertMany(ctx, SubmissionsCollection, docs); err != nil {
		return fmt.Errorf("insert submissions: %w", err)
	}
	return nil
}

func (s *Store) upsert(ctx context.Context, collection string, query, doc map[string]any) error {
	c, err := s.pool.Get()
	if err != nil {
		return err
	}
	res, err := c.UpdateOne(ctx, collection, query, map[string]any{"$set": doc})
	if err != nil {
		return fmt.Errorf("upsert into %s: %w", collection, err)
	}
	if n, _ := res["modified"].(float64); n > 0 {
		return nil
	}
	if _, err := c.Insert(ctx, collection, doc); err != nil {
		return fmt.Errorf("upsert into %s: %w", collection, err)
	}
	return nil
}
