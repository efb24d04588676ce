package mongo

import (
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/chatcore/internal/docstore"
)

// buildFind translates a docstore query into a find filter and options.
func buildFind(q docstore.Query) (bson.M, *options.FindOptions, error) {
	if err := q.Validate(); err != nil {
		return nil, nil, err
	}
	scope := bson.M{"collection": q.Path}
	if q.Group {
		scope = bson.M{"group": q.Path}
	}
	filter := scope
	if !q.Where.IsZero() {
		where, err := toBSON(q.Where)
		if err != nil {
			return nil, nil, err
		}
		filter = bson.M{"$and": bson.A{scope, where}}
	}
	sortSpec := bson.D{}
	for _, o := range q.OrderBy {
		dir := 1
		if o.Dir == docstore.Desc {
			dir = -1
		}
		sortSpec = append(sortSpec, bson.E{Key: fieldKey(o.Field), Value: dir})
	}
	sortSpec = append(sortSpec, bson.E{Key: "collection", Value: 1}, bson.E{Key: "docId", Value: 1})
	opts := options.Find().SetSort(sortSpec)
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return filter, opts, nil
}

func fieldKey(field string) string {
	if field == docstore.FieldID {
		return "docId"
	}
	return "data." + field
}

func toBSON(f docstore.Filter) (bson.M, error) {
	switch f.Op {
	case docstore.FilterAnd, docstore.FilterOr:
		parts := make(bson.A, 0, len(f.Sub))
		for _, s := range f.Sub {
			p, err := toBSON(s)
			if err != nil {
				return nil, err
			}
			parts = append(parts, p)
		}
		if f.Op == docstore.FilterAnd {
			return bson.M{"$and": parts}, nil
		}
		return bson.M{"$or": parts}, nil
	case docstore.FilterEq:
		return bson.M{fieldKey(f.Field): bson.M{"$eq": f.Value}}, nil
	case docstore.FilterIn:
		return bson.M{fieldKey(f.Field): bson.M{"$in": bson.A(f.Values)}}, nil
	case docstore.FilterArrayContains:
		return bson.M{fieldKey(f.Field): bson.M{"$elemMatch": bson.M{"$eq": f.Value}}}, nil
	case docstore.FilterGt:
		return bson.M{fieldKey(f.Field): bson.M{"$gt": f.Value}}, nil
	case docstore.FilterGte:
		return bson.M{fieldKey(f.Field): bson.M{"$gte": f.Value}}, nil
	case docstore.FilterLt:
		return bson.M{fieldKey(f.Field): bson.M{"$lt": f.Value}}, nil
	case docstore.FilterLte:
		return bson.M{fieldKey(f.Field): bson.M{"$lte": f.Value}}, nil
	default:
		return nil, fmt.Errorf("%w: filter op %d", docstore.ErrInvalidArgument, f.Op)
	}
}

// updateDocument builds $set/$inc/$addToSet for field updates. The version is
// bumped by one, which stays far below clock-stamped versions of new documents.
func updateDocument(updates []docstore.FieldUpdate, now time.Time) (bson.M, error) {
	set := bson.M{"updatedAt": now}
	inc := bson.M{"version": int64(1)}
	addToSet := bson.M{}
	for _, u := range updates {
		key := "data." + u.Field
		switch u.Kind {
		case docstore.UpdateAssign:
			set[key] = u.Value
		case docstore.UpdateIncrement:
			inc[key] = u.Delta
		case docstore.UpdateArrayUnion:
			addToSet[key] = bson.M{"$each": bson.A(u.Values)}
		default:
			return nil, fmt.Errorf("%w: update kind %d", docstore.ErrInvalidArgument, u.Kind)
		}
	}
	upd := bson.M{"$set": set, "$inc": inc}
	if len(addToSet) > 0 {
		upd["$addToSet"] = addToSet
	}
	return upd, nil
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	for _, s := range []error{docstore.ErrNotFound, docstore.ErrAlreadyExists, docstore.ErrConflict,
		docstore.ErrUnavailable, docstore.ErrInvalidArgument} {
		if errors.Is(err, s) {
			return err
		}
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		switch {
		case se.HasErrorLabel("TransientTransactionError"), se.HasErrorCode(112):
			return fmt.Errorf("%w: %v", docstore.ErrConflict, err)
		case se.HasErrorLabel("UnknownTransactionCommitResult"):
			return fmt.Errorf("%w: %v", docstore.ErrUnavailable, err)
		}
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", docstore.ErrAlreadyExists, err)
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, mongo.ErrClientDisconnected) {
		return fmt.Errorf("%w: %v", docstore.ErrUnavailable, err)
	}
	return err
}
