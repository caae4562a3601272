package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/wattflow/wattflow/pkg/log"
	"github.com/wattflow/wattflow/pkg/types"
)

// FirestoreProvider stores snapshots in Google Cloud Firestore, one document
// per card in the "cards" collection.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

var _ Database = (*FirestoreProvider)(nil)

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// the project can be detected from the environment
	return nil
}

// Init creates the Firestore client. It must be called before anything else.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) cardDoc(cardID string) (*firestore.DocumentRef, error) {
	if cardID == "" {
		return nil, ErrEmptyCardID
	}
	return f.client.Collection("cards").Doc(cardID), nil
}

// PutSnapshot overwrites the snapshot document of the card. The snapshot is
// stored as a JSON string next to its timestamp.
func (f *FirestoreProvider) PutSnapshot(ctx context.Context, cardID string, s types.States) error {
	doc, err := f.cardDoc(cardID)
	if err != nil {
		return err
	}
	jsonBytes, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	_, err = doc.Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": s.Timestamp,
		"updated":   time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// GetSnapshot reads the snapshot document of the card.
func (f *FirestoreProvider) GetSnapshot(ctx context.Context, cardID string) (types.States, error) {
	ref, err := f.cardDoc(cardID)
	if err != nil {
		return types.States{}, err
	}
	doc, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.States{}, ErrSnapshotNotFound
		}
		return types.States{}, fmt.Errorf("failed to fetch snapshot doc: %w", err)
	}

	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "snapshot doc missing json", slog.String("cardID", cardID))
		return types.States{}, fmt.Errorf("snapshot document missing 'json' field: %w", err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "snapshot doc json not string", slog.String("cardID", cardID))
		return types.States{}, fmt.Errorf("snapshot 'json' field is not a string")
	}

	var s types.States
	if err := json.Unmarshal([]byte(jsonStr), &s); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal snapshot json", slog.String("cardID", cardID), slog.Any("err", err))
		return types.States{}, fmt.Errorf("failed to unmarshal snapshot json: %w", err)
	}
	return s, nil
}

// ListCards returns the ids of every card with a snapshot, ordered by id.
func (f *FirestoreProvider) ListCards(ctx context.Context) ([]string, error) {
	iter := f.client.Collection("cards").
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var ids []string
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating cards: %w", err)
		}
		ids = append(ids, doc.Ref.ID)
	}
	return ids, nil
}
