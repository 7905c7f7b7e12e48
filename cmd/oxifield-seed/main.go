// Command oxifield-seed fills a remote OxiDB with a demo survey, its
// locations of interest and random submissions, for exercising sync.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/parisxmas/OxiDB/OxiField/internal/db"
	"github.com/parisxmas/OxiDB/OxiField/internal/models"
	"github.com/parisxmas/OxiDB/OxiField/internal/remote"
)

var (
	species = []string{"Oak", "Elm", "Birch", "Maple", "Linden", "Chestnut", "Ash", "Pine", "Willow", "Plane"}
	health  = []string{"good", "fair", "poor", "dead"}
	users   = []string{"seed-ana", "seed-ben", "seed-cleo", "seed-dev"}
)

func demoSurvey(id string) *models.Survey {
	return &models.Survey{
		ID:          id,
		Title:       "Urban tree inventory",
		Description: "Street trees observed by field teams.",
		Jobs: []models.Job{{
			ID:   "trees",
			Name: "Trees",
			Tasks: []models.Task{
				{ID: "observe", Label: "Observe tree", Fields: []models.Field{
					{ID: "species", Label: "Species", Type: models.FieldTypeText, Required: true},
					{ID: "height", Label: "Height (m)", Type: models.FieldTypeNumber},
					{ID: "health", Label: "Health", Type: models.FieldTypeMultipleChoice, Options: health},
				}},
				{ID: "photograph", Label: "Photograph tree", Fields: []models.Field{
					{ID: "photo", Label: "Photo", Type: models.FieldTypePhoto},
				}},
			},
		}},
	}
}

func loadSurvey(path, id string) (*models.Survey, error) {
	if path == "" {
		return demoSurvey(id), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var survey models.Survey
	if err := yaml.Unmarshal(data, &survey); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if survey.ID == "" {
		survey.ID = id
	}
	if len(survey.Jobs) == 0 {
		return nil, fmt.Errorf("%s: survey has no jobs", path)
	}
	return &survey, nil
}

func randomResponses(rng *rand.Rand, task models.Task, subID string) models.Responses {
	var out models.Responses
	for _, f := range task.Fields {
		var v any
		switch f.Type {
		case models.FieldTypeText:
			v = species[rng.Intn(len(species))]
		case models.FieldTypeNumber:
			v = float64(rng.Intn(300)) / 10
		case models.FieldTypeMultipleChoice:
			if len(f.Options) == 0 {
				continue
			}
			v = []string{f.Options[rng.Intn(len(f.Options))]}
		case models.FieldTypePhoto:
			v = subID + "/" + f.ID + ".jpg"
		default:
			continue
		}
		out = append(out, models.Response{FieldID: f.ID, Value: v})
	}
	return out
}

func main() {
	host := pflag.String("host", "127.0.0.1", "OxiDB host")
	port := pflag.Int("port", 4444, "OxiDB port")
	surveyID := pflag.String("survey", "demo-survey", "survey id")
	surveyFile := pflag.String("survey-file", "", "YAML survey definition (default: built-in tree inventory)")
	loiCount := pflag.Int("lois", 100, "locations of interest to create")
	perLOI := pflag.Int("submissions", 20, "submissions per location of interest")
	batchSize := pflag.Int("batch", 5000, "submissions per insert_many")
	seed := pflag.Int64("seed", 42, "random seed")
	verbose := pflag.BoolP("verbose", "v", false, "log pool activity")
	pflag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	if err := seedAll(context.Background(), logger, *host, *port, *surveyID, *surveyFile, *loiCount, *perLOI, *batchSize, *seed, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
}

func seedAll(ctx context.Context, logger *slog.Logger, host string, port int, surveyID, surveyFile string, loiCount, perLOI, batchSize int, seed int64, out io.Writer) error {
	if batchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	survey, err := loadSurvey(surveyFile, surveyID)
	if err != nil {
		return err
	}

	pool, err := db.NewPool(host, port, 1, logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping %s:%d: %w", host, port, err)
	}
	store := remote.NewStore(pool, logger)
	fmt.Fprintf(out, "Connected to %s:%d\n", host, port)

	if err := store.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}
	if err := store.SaveSurvey(ctx, survey); err != nil {
		return err
	}
	fmt.Fprintf(out, "Survey %q saved (%d jobs)\n", survey.ID, len(survey.Jobs))

	rng := rand.New(rand.NewSource(seed))
	start := time.Now()
	batch := make([]models.Submission, 0, batchSize)
	inserted := 0
	flush := func() error {
		if err := store.InsertSubmissions(ctx, batch); err != nil {
			return err
		}
		inserted += len(batch)
		batch = batch[:0]
		return nil
	}

	for i := 0; i < loiCount; i++ {
		job := survey.Jobs[i%len(survey.Jobs)]
		loi := &models.LocationOfInterest{
			ID:        fmt.Sprintf("%s-loi-%05d", survey.ID, i),
			SurveyID:  survey.ID,
			Job:       job,
			Name:      fmt.Sprintf("%s #%d", job.Name, i),
			Latitude:  52.3 + rng.Float64()*0.4,
			Longitude: 13.1 + rng.Float64()*0.6,
		}
		if err := store.SaveLocationOfInterest(ctx, loi); err != nil {
			return err
		}
		if len(job.Tasks) == 0 {
			continue
		}

		for j := 0; j < perLOI; j++ {
			task := job.Tasks[rng.Intn(len(job.Tasks))]
			subID := uuid.NewString()
			audit := models.AuditInfo{
				UserID:          users[rng.Intn(len(users))],
				ClientTimestamp: start.Add(-time.Duration(rng.Intn(90*24)) * time.Hour).UTC(),
				ServerTimestamp: start.UTC(),
			}
			batch = append(batch, models.Submission{
				ID:                 subID,
				SurveyID:           survey.ID,
				LocationOfInterest: *loi,
				Task:               task,
				Responses:          randomResponses(rng, task, subID),
				Created:            audit,
				LastModified:       audit,
			})
			if len(batch) == batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	elapsed := time.Since(start)
	fmt.Fprintf(out, "Seeded %d locations of interest and %d submissions in %s\n",
		loiCount, inserted, elapsed.Round(time.Millisecond))
	return nil
}
