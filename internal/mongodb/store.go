// Package mongodb stores technicians, requests and notifications as documents,
// one collection per request kind.
package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/campusfix/backend/internal/models"
	"github.com/campusfix/backend/internal/store"
)

const (
	technicianCollection   = "technicians"
	userCollection         = "users"
	notificationCollection = "Notifications"
)

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ store.Store = (*Store)(nil)

func New(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return NewWithClient(client, database), nil
}

func NewWithClient(client *mongo.Client, database string) *Store {
	return &Store{client: client, db: client.Database(database)}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) requests(kind models.RequestKind) *mongo.Collection {
	return s.db.Collection(kind.Collection())
}

// withTx runs fn in a multi-document transaction. fn may be retried.
func (s *Store) withTx(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

func (s *Store) ListTechnicians(ctx context.Context) ([]models.Technician, error) {
	cur, err := s.db.Collection(technicianCollection).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Technician
	for cur.Next(ctx) {
		var doc technicianDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.model())
	}
	return out, cur.Err()
}

func (s *Store) GetTechnician(ctx context.Context, id string) (models.Technician, error) {
	var doc technicianDoc
	if err := s.db.Collection(technicianCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return models.Technician{}, mapNoDocuments(err)
	}
	return doc.model(), nil
}

// UpsertTechnician is used by seeding and tests.
func (s *Store) UpsertTechnician(ctx context.Context, t models.Technician) error {
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.Collection(technicianCollection).ReplaceOne(ctx, bson.M{"_id": t.ID}, technicianFromModel(t), options.Replace().SetUpsert(true))
	return err
}

func (s *Store) UpsertUser(ctx context.Context, u models.User) error {
	doc := userDoc{ID: u.ID, Name: u.Name, Email: u.Email, Role: string(u.Role)}
	_, err := s.db.Collection(userCollection).ReplaceOne(ctx, bson.M{"_id": u.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (s *Store) ListUsersByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	cur, err := s.db.Collection(userCollection).Find(ctx, bson.M{"role": string(role)}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.User
	for cur.Next(ctx) {
		var doc userDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, models.User{ID: doc.ID, Name: doc.Name, Email: doc.Email, Role: models.Role(doc.Role)})
	}
	return out, cur.Err()
}

func (s *Store) InsertRequest(ctx context.Context, r models.Request) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	_, err := s.requests(r.Kind).InsertOne(ctx, requestFromModel(r))
	return err
}

func (s *Store) GetRequest(ctx context.Context, kind models.RequestKind, id string) (models.Request, error) {
	var doc requestDoc
	if err := s.requests(kind).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return models.Request{}, mapNoDocuments(err)
	}
	return doc.model(kind), nil
}

func (s *Store) ListRequests(ctx context.Context, kind models.RequestKind, filter store.RequestFilter) ([]models.Request, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.requests(kind).Find(ctx, requestQuery(filter), opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Request
	for cur.Next(ctx) {
		var doc requestDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.model(kind))
	}
	return out, cur.Err()
}

// shiftLoad moves activeTaskCount by delta, never below zero.
func (s *Store) shiftLoad(ctx context.Context, technicianID string, delta int, at time.Time) error {
	filter := bson.M{"_id": technicianID}
	if delta < 0 {
		filter["activeTaskCount"] = bson.M{"$gte": -delta}
	}
	_, err := s.db.Collection(technicianCollection).UpdateOne(ctx, filter, bson.M{
		"$inc": bson.M{"activeTaskCount": delta},
		"$set": bson.M{"updatedAt": at},
	})
	return err
}

func (s *Store) CommitAssignment(ctx context.Context, c store.AssignmentCommit) (store.AssignmentOutcome, error) {
	var out store.AssignmentOutcome
	err := s.withTx(ctx, func(sc mongo.SessionContext) error {
		out = store.AssignmentOutcome{}
		r, err := s.GetRequest(sc, c.Kind, c.RequestID)
		if err != nil {
			return err
		}
		if _, err := s.GetTechnician(sc, c.TechnicianID); err != nil {
			return err
		}
		if err := store.CheckAssignable(r); err != nil {
			return err
		}

		prev := r.AssigneeID()
		if prev != c.TechnicianID {
			if prev != "" {
				if err := s.shiftLoad(sc, prev, -1, c.At); err != nil {
					return err
				}
				out.PreviousTechnicianID = prev
			}
			if err := s.shiftLoad(sc, c.TechnicianID, 1, c.At); err != nil {
				return err
			}
			out.CounterIncremented = true
		}

		var doc requestDoc
		err = s.requests(c.Kind).FindOneAndUpdate(sc, bson.M{"_id": c.RequestID}, bson.M{"$set": bson.M{
			"assignedTechnicianId":   c.TechnicianID,
			"assignedTechnicianName": c.TechnicianName,
			"status":                 string(models.StatusInProgress),
			"assignedAt":             c.At,
			"updatedAt":              c.At,
		}}, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
		if err != nil {
			return mapNoDocuments(err)
		}
		out.Request = doc.model(c.Kind)
		return nil
	})
	if err != nil {
		return store.AssignmentOutcome{}, err
	}
	return out, nil
}

func (s *Store) CompleteRequest(ctx context.Context, kind models.RequestKind, id string, at time.Time) (models.Request, error) {
	var out models.Request
	err := s.withTx(ctx, func(sc mongo.SessionContext) error {
		r, err := s.GetRequest(sc, kind, id)
		if err != nil {
			return err
		}
		if r.Status != models.StatusInProgress {
			return store.ErrInvalidState
		}
		if tid := r.AssigneeID(); tid != "" {
			if err := s.shiftLoad(sc, tid, -1, at); err != nil {
				return err
			}
			if _, err := s.db.Collection(technicianCollection).UpdateOne(sc, bson.M{"_id": tid}, bson.M{"$inc": bson.M{"solvedTaskCount": 1}}); err != nil {
				return err
			}
		}
		var doc requestDoc
		err = s.requests(kind).FindOneAndUpdate(sc, bson.M{"_id": id}, bson.M{"$set": bson.M{
			"status":      string(models.StatusCompleted),
			"completedAt": at,
			"updatedAt":   at,
		}}, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
		if err != nil {
			return mapNoDocuments(err)
		}
		out = doc.model(kind)
		return nil
	})
	return out, err
}

func (s *Store) DeclineRequest(ctx context.Context, kind models.RequestKind, id string, technicianID string, limit int, at time.Time) (store.DeclineOutcome, error) {
	var out store.DeclineOutcome
	err := s.withTx(ctx, func(sc mongo.SessionContext) error {
		r, err := s.GetRequest(sc, kind, id)
		if err != nil {
			return err
		}
		if err := store.CheckDeclinable(r, technicianID); err != nil {
			return err
		}
		if err := s.shiftLoad(sc, technicianID, -1, at); err != nil {
			return err
		}
		rejected := store.ApplyDecline(&r, technicianID, limit, at)
		if _, err := s.requests(kind).ReplaceOne(sc, bson.M{"_id": id}, requestFromModel(r)); err != nil {
			return err
		}
		out = store.DeclineOutcome{Request: r, Rejected: rejected}
		return nil
	})
	if err != nil {
		return store.DeclineOutcome{}, err
	}
	return out, nil
}

func (s *Store) InsertNotification(ctx context.Context, n models.Notification) (string, error) {
	if _, err := s.db.Collection(notificationCollection).InsertOne(ctx, notificationFromModel(n)); err != nil {
		return "", err
	}
	return n.ID, nil
}

type changeEvent struct {
	OperationType string      `bson:"operationType"`
	FullDocument  *requestDoc `bson:"fullDocument"`
}

// Subscribe tails the kind's change stream. It needs a replica set.
func (s *Store) Subscribe(ctx context.Context, kind models.RequestKind, fn func(models.RequestChange)) error {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"operationType": bson.M{"$in": bson.A{"insert", "update", "replace"}}}}},
	}
	cs, err := s.requests(kind).Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return err
	}
	defer cs.Close(context.Background())

	for cs.Next(ctx) {
		var ev changeEvent
		if err := cs.Decode(&ev); err != nil {
			return err
		}
		if ev.FullDocument == nil {
			continue
		}
		op := models.ChangeUpdate
		if ev.OperationType == "insert" {
			op = models.ChangeInsert
		}
		fn(models.RequestChange{Kind: kind, Op: op, Request: ev.FullDocument.model(kind)})
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return cs.Err()
}

func mapNoDocuments(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return err
}
