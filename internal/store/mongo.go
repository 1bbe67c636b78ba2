package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"licsrv/pkg/contracts/domain"
)

const (
	defaultLicensesCollection    = "licenses"
	defaultActivationsCollection = "activations"
	defaultCASAttempts           = 5
)

// validCollectionName matches safe MongoDB collection names.
var validCollectionName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// MongoOption configures a Mongo store.
type MongoOption func(*Mongo)

// WithMongoCollections overrides the license and activation collection names.
func WithMongoCollections(licenses, activations string) MongoOption {
	return func(m *Mongo) {
		m.licensesName = licenses
		m.activationsName = activations
	}
}

// WithCASAttempts sets how many times Update re-reads and retries after
// losing a version race before returning ErrConflict.
func WithCASAttempts(n int) MongoOption {
	return func(m *Mongo) {
		if n > 0 {
			m.casAttempts = n
		}
	}
}

// Mongo implements Store on MongoDB. Updates use optimistic concurrency: the
// replacement is filtered on the version that was read, so a concurrent
// writer makes the replace match nothing and the mutation is retried on the
// fresh record.
type Mongo struct {
	client          *mongo.Client // set only when the store owns the connection
	db              *mongo.Database
	licenses        *mongo.Collection
	activations     *mongo.Collection
	licensesName    string
	activationsName string
	casAttempts     int
}

// DialMongo connects to uri and opens the store on database dbName. The
// returned store owns the client and disconnects it on Close.
func DialMongo(ctx context.Context, uri, dbName string, opts ...MongoOption) (*Mongo, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	m, err := NewMongo(ctx, client.Database(dbName), opts...)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	m.client = client
	return m, nil
}

// NewMongo opens the store on an existing database handle. The caller keeps
// ownership of the client. Indexes are created on initialization.
func NewMongo(ctx context.Context, db *mongo.Database, opts ...MongoOption) (*Mongo, error) {
	m := &Mongo{
		db:              db,
		licensesName:    defaultLicensesCollection,
		activationsName: defaultActivationsCollection,
		casAttempts:     defaultCASAttempts,
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, name := range []string{m.licensesName, m.activationsName} {
		if !validCollectionName.MatchString(name) {
			return nil, fmt.Errorf("invalid collection name %q: must match [a-zA-Z_][a-zA-Z0-9_]*", name)
		}
	}
	m.licenses = db.Collection(m.licensesName)
	m.activations = db.Collection(m.activationsName)

	if err := m.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("create indexes: %w", err)
	}
	return m, nil
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	_, err := m.licenses.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "email", Value: 1}},
		},
	})
	if err != nil {
		return err
	}
	_, err = m.activations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "key", Value: 1},
				{Key: "timestamp", Value: 1},
			},
		},
		{
			Keys: bson.D{{Key: "timestamp", Value: 1}},
		},
	})
	return err
}

func (m *Mongo) Put(ctx context.Context, l *domain.License) error {
	_, err := m.licenses.InsertOne(ctx, l)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("insert license: %w", err)
	}
	return nil
}

func (m *Mongo) Get(ctx context.Context, key string) (*domain.License, error) {
	var l domain.License
	err := m.licenses.FindOne(ctx, bson.M{"key": key}).Decode(&l)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find license: %w", err)
	}
	return &l, nil
}

func (m *Mongo) Update(ctx context.Context, key string, mutate Mutation) (*domain.License, error) {
	for attempt := 0; attempt < m.casAttempts; attempt++ {
		cur, err := m.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		next, err := applyMutation(cur, mutate)
		if err != nil {
			return nil, err
		}
		res, err := m.licenses.ReplaceOne(ctx,
			bson.M{"key": key, "version": cur.Version},
			next,
		)
		if err != nil {
			return nil, fmt.Errorf("replace license: %w", err)
		}
		if res.MatchedCount == 1 {
			return next, nil
		}
	}
	return nil, ErrConflict
}

func (m *Mongo) ListByEmail(ctx context.Context, email string) ([]*domain.License, error) {
	filter := bson.M{"email": bson.M{
		"$regex":   "^" + regexp.QuoteMeta(normalizeEmail(email)) + "$",
		"$options": "i",
	}}
	return m.find(ctx, filter)
}

func (m *Mongo) List(ctx context.Context) ([]*domain.License, error) {
	return m.find(ctx, bson.M{})
}

func (m *Mongo) find(ctx context.Context, filter bson.M) ([]*domain.License, error) {
	cursor, err := m.licenses.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "issued_at", Value: 1}, {Key: "key", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	var out []*domain.License
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode licenses: %w", err)
	}
	return out, nil
}

func (m *Mongo) AppendActivation(ctx context.Context, ev domain.ActivationEvent) error {
	if _, err := m.activations.InsertOne(ctx, ev); err != nil {
		return fmt.Errorf("insert activation: %w", err)
	}
	return nil
}

func (m *Mongo) Activations(ctx context.Context, key string) ([]domain.ActivationEvent, error) {
	cursor, err := m.activations.Find(ctx, bson.M{"key": key},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list activations: %w", err)
	}
	var out []domain.ActivationEvent
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode activations: %w", err)
	}
	return out, nil
}

func (m *Mongo) PruneActivations(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := m.activations.DeleteMany(ctx, bson.M{"timestamp": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("prune activations: %w", err)
	}
	return int(res.DeletedCount), nil
}

func (m *Mongo) Ping(ctx context.Context) error {
	return m.db.Client().Ping(ctx, nil)
}

// Database returns the handle the store was opened on, so other components
// (the telemetry sink) can share the connection.
func (m *Mongo) Database() *mongo.Database {
	return m.db
}

func (m *Mongo) Close(ctx context.Context) error {
	if m.client == nil {
		return nil // caller manages the client lifecycle
	}
	return m.client.Disconnect(ctx)
}
