// Package mongosource implements the MongoDB source adapter: collection
// copy and change-stream watching with resume-token persistence.
package mongosource

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/clockpipe/clockpipe/internal/pipeerr"
)

// Adapter wraps a MongoDB client plus resume-token file persistence.
type Adapter struct {
	client          *mongo.Client
	resumeTokenPath string
	copyBatchSize   int32
	logger          zerolog.Logger
}

// Connect dials uri and verifies connectivity is possible via Ping.
func Connect(ctx context.Context, uri string, resumeTokenPath string, copyBatchSize int32, logger zerolog.Logger) (*Adapter, error) {
	opts := options.Client().ApplyURI(uri).SetServerAPIOptions(
		options.ServerAPI(options.ServerAPIVersion1))

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, pipeerr.Wrap(pipeerr.DbConnect, err)
	}
	return &Adapter{
		client:          client,
		resumeTokenPath: resumeTokenPath,
		copyBatchSize:   copyBatchSize,
		logger:          logger.With().Str("component", "mongosource").Logger(),
	}, nil
}

func (a *Adapter) Close(ctx context.Context) error { return a.client.Disconnect(ctx) }

func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.client.Ping(ctx, readpref.Primary()); err != nil {
		return pipeerr.Wrap(pipeerr.DbPing, err)
	}
	return nil
}

// CopyCollection reads every document of database.collection in
// copyBatchSize-sized pages, invoking onDoc for each.
func (a *Adapter) CopyCollection(ctx context.Context, database, collection string, onDoc func(bson.M) error) error {
	coll := a.client.Database(database).Collection(collection)

	findOpts := options.Find().
		SetBatchSize(a.copyBatchSize).
		SetCursorType(options.NonTailable)

	cursor, err := coll.Find(ctx, bson.D{}, findOpts)
	if err != nil {
		return pipeerr.Wrap(pipeerr.DbQuery, err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return pipeerr.Wrap(pipeerr.DbQuery, err)
		}
		if err := onDoc(doc); err != nil {
			return err
		}
	}
	return pipeerr.Wrap(pipeerr.DbQuery, cursor.Err())
}

// ChangeEvent is one peeked change-stream event, with full_document looked
// up for updates (FullDocument: options.UpdateLookup).
type ChangeEvent struct {
	OperationType string
	Collection    string
	DocumentKey   bson.M
	FullDocument  bson.M
}

// PeekResult is the outcome of one PeekChanges call: the changes observed
// and the resume token positioned after the last one, ready to persist.
type PeekResult struct {
	Changes     []ChangeEvent
	ResumeToken bson.Raw
}

// PeekChanges opens (or resumes, via the persisted resume token) a
// database-wide change stream and collects up to limit events, racing
// against a timeoutMillis deadline. The stream watches the whole database,
// so events from every collection in it are returned, tagged with ns.coll;
// the caller drops those for collections it does not track.
func (a *Adapter) PeekChanges(ctx context.Context, database string, limit int64, timeoutMillis int64) (*PeekResult, error) {
	db := a.client.Database(database)

	csOpts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	token, err := a.LoadResumeToken()
	if err != nil {
		return nil, err
	}
	if token != nil {
		csOpts.SetStartAfter(token)
	}

	stream, err := db.Watch(ctx, mongo.Pipeline{}, csOpts)
	if err != nil {
		return nil, pipeerr.Wrap(pipeerr.PeekChanges, err)
	}
	defer stream.Close(ctx)

	resumeToken := stream.ResumeToken()
	if resumeToken == nil {
		return nil, pipeerr.Wrapf(pipeerr.PeekChanges, "no resume token available from change stream")
	}

	changes := make([]ChangeEvent, 0, limit)

	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMillis)*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		for stream.Next(timeoutCtx) {
			var raw struct {
				OperationType string `bson:"operationType"`
				Ns            struct {
					Collection string `bson:"coll"`
				} `bson:"ns"`
				DocumentKey  bson.M `bson:"documentKey"`
				FullDocument bson.M `bson:"fullDocument"`
			}
			if err := stream.Decode(&raw); err != nil {
				done <- pipeerr.Wrap(pipeerr.PeekChanges, err)
				return
			}
			changes = append(changes, ChangeEvent{
				OperationType: raw.OperationType,
				Collection:    raw.Ns.Collection,
				DocumentKey:   raw.DocumentKey,
				FullDocument:  raw.FullDocument,
			})
			resumeToken = stream.ResumeToken()
			if int64(len(changes)) >= limit {
				done <- nil
				return
			}
		}
		done <- stream.Err()
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
	case <-timeoutCtx.Done():
	}

	return &PeekResult{Changes: changes, ResumeToken: resumeToken}, nil
}

// StoreResumeToken persists token as JSON at the configured path.
func (a *Adapter) StoreResumeToken(token bson.Raw) error {
	data, err := json.Marshal(token)
	if err != nil {
		return pipeerr.Wrap(pipeerr.ResumeTokenParse, err)
	}
	if err := os.WriteFile(a.resumeTokenPath, data, 0o644); err != nil {
		return pipeerr.Wrap(pipeerr.IO, err)
	}
	return nil
}

// LoadResumeToken reads the persisted resume token, returning nil with no
// error if the file does not yet exist (first run).
func (a *Adapter) LoadResumeToken() (bson.Raw, error) {
	data, err := os.ReadFile(a.resumeTokenPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, pipeerr.Wrap(pipeerr.IO, err)
	}

	var raw bson.Raw
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, pipeerr.Wrap(pipeerr.ResumeTokenParse, err)
	}
	return raw, nil
}
