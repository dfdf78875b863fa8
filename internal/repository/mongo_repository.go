package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const recordCollection = "marking_records"

type mongoRecord struct {
	ID          string    `bson:"_id"`
	StudentName string    `bson:"student_name"`
	CreatedAt   time.Time `bson:"created_at"`
	Payload     string    `bson:"payload"`
}

// MongoRecordRepository stores records in a MongoDB collection
type MongoRecordRepository struct {
	client  *mongo.Client
	records *mongo.Collection
}

// NewMongoRecordRepository connects to uri and prepares the collection
func NewMongoRecordRepository(ctx context.Context, uri, database string) (*MongoRecordRepository, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRepositoryUnavailable, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%w: %v", ErrRepositoryUnavailable, err)
	}

	repo := &MongoRecordRepository{
		client:  client,
		records: client.Database(database).Collection(recordCollection),
	}
	_, err = repo.records.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "student_name", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("create index: %w", err)
	}
	return repo, nil
}

func (r *MongoRecordRepository) Save(ctx context.Context, record *MarkingRecord) error {
	if err := record.validate(); err != nil {
		return err
	}
	data, err := record.payload()
	if err != nil {
		return err
	}
	doc := mongoRecord{
		ID:          record.ID,
		StudentName: record.StudentName,
		CreatedAt:   record.CreatedAt.UTC(),
		Payload:     string(data),
	}
	opts := options.Replace().SetUpsert(true)
	_, err = r.records.ReplaceOne(ctx, bson.M{"_id": record.ID}, doc, opts)
	return err
}

func (r *MongoRecordRepository) Get(ctx context.Context, id string) (*MarkingRecord, error) {
	var doc mongoRecord
	err := r.records.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toRecord()
}

func (r *MongoRecordRepository) History(ctx context.Context, studentName string, limit int) ([]*MarkingRecord, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(historyLimit(limit)))
	cursor, err := r.records.Find(ctx, bson.M{"student_name": studentName}, opts)
	if err != nil {
		return nil, err
	}
	var docs []mongoRecord
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	out := make([]*MarkingRecord, 0, len(docs))
	for _, doc := range docs {
		rec, err := doc.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *MongoRecordRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

func (d mongoRecord) toRecord() (*MarkingRecord, error) {
	result, err := decodePayload([]byte(d.Payload))
	if err != nil {
		return nil, err
	}
	return &MarkingRecord{
		ID:          d.ID,
		StudentName: d.StudentName,
		CreatedAt:   d.CreatedAt,
		Result:      result,
	}, nil
}
