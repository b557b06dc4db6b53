// Copyright 2022 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"context"

	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
)

// MongoDB stores a similarity list as a single document so that replacing it is atomic.
type MongoDB struct {
	client *mongo.Client
	dbName string
	TablePrefix
}

func openMongoDB(path, tablePrefix string) (*MongoDB, error) {
	opts := options.Client()
	opts.Monitor = otelmongo.NewMonitor()
	opts.ApplyURI(path)
	client, err := mongo.Connect(context.Background(), opts)
	if err != nil {
		return nil, errors.Trace(err)
	}
	cs, err := connstring.ParseAndValidate(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &MongoDB{client: client, dbName: cs.Database, TablePrefix: TablePrefix(tablePrefix)}, nil
}

func (m *MongoDB) collection(name string) *mongo.Collection {
	return m.client.Database(m.dbName).Collection(name)
}

func (m *MongoDB) Init(ctx context.Context) error {
	d := m.client.Database(m.dbName)
	collections, err := d.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return errors.Trace(err)
	}
	for _, name := range []string{m.BooksTable(), m.SimilaritiesTable(), m.MetaTable()} {
		if !lo.Contains(collections, name) {
			if err = d.CreateCollection(ctx, name); err != nil {
				return errors.Trace(err)
			}
		}
	}
	return nil
}

func (m *MongoDB) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *MongoDB) Close() error {
	return m.client.Disconnect(context.Background())
}

func (m *MongoDB) Purge(ctx context.Context) error {
	for _, name := range []string{m.BooksTable(), m.SimilaritiesTable(), m.MetaTable()} {
		if _, err := m.collection(name).DeleteMany(ctx, bson.M{}); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (m *MongoDB) BatchUpsertBooks(ctx context.Context, books []Book) error {
	if len(books) == 0 {
		return nil
	}
	var models []mongo.WriteModel
	for _, book := range books {
		models = append(models, mongo.NewReplaceOneModel().
			SetUpsert(true).
			SetFilter(bson.M{"_id": book.ISBN}).
			SetReplacement(book))
	}
	_, err := m.collection(m.BooksTable()).BulkWrite(ctx, models)
	return errors.Trace(err)
}

func (m *MongoDB) GetBook(ctx context.Context, isbn string) (Book, error) {
	var book Book
	err := m.collection(m.BooksTable()).FindOne(ctx, bson.M{"_id": isbn}).Decode(&book)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Book{}, errors.NotFoundf("book %s", isbn)
	}
	return book, errors.Trace(err)
}

func (m *MongoDB) ScanBooks(ctx context.Context, cursor string, n int) (string, []Book, error) {
	n = PageSize(n)
	opt := options.Find()
	opt.SetLimit(int64(n))
	opt.SetSort(bson.D{{"_id", 1}})
	r, err := m.collection(m.BooksTable()).Find(ctx, bson.M{"_id": bson.M{"$gt": cursor}}, opt)
	if err != nil {
		return "", nil, errors.Trace(err)
	}
	defer r.Close(ctx)
	var books []Book
	for r.Next(ctx) {
		var book Book
		if err = r.Decode(&book); err != nil {
			return "", nil, errors.Trace(err)
		}
		books = append(books, book)
	}
	if err = r.Err(); err != nil {
		return "", nil, errors.Trace(err)
	}
	if len(books) == n {
		return books[n-1].ISBN, books, nil
	}
	return "", books, nil
}

func (m *MongoDB) CountBooks(ctx context.Context) (int, error) {
	n, err := m.collection(m.BooksTable()).CountDocuments(ctx, bson.M{})
	return int(n), errors.Trace(err)
}

func (m *MongoDB) BatchReplaceSimilarities(ctx context.Context, lists []SimilarityList) error {
	if len(lists) == 0 {
		return nil
	}
	var models []mongo.WriteModel
	for _, list := range lists {
		if list.Neighbors == nil {
			list.Neighbors = []Neighbor{}
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetUpsert(true).
			SetFilter(bson.M{"_id": list.ISBN}).
			SetReplacement(list))
	}
	_, err := m.collection(m.SimilaritiesTable()).BulkWrite(ctx, models)
	return errors.Trace(err)
}

func (m *MongoDB) GetSimilarities(ctx context.Context, isbn string) ([]Neighbor, error) {
	var list SimilarityList
	err := m.collection(m.SimilaritiesTable()).FindOne(ctx, bson.M{"_id": isbn}).Decode(&list)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	return list.Neighbors, nil
}

func (m *MongoDB) CountSimilarities(ctx context.Context) (int, error) {
	r, err := m.collection(m.SimilaritiesTable()).Aggregate(ctx, mongo.Pipeline{
		{{"$group", bson.M{
			"_id":   nil,
			"count": bson.M{"$sum": bson.M{"$size": bson.M{"$ifNull": bson.A{"$neighbors", bson.A{}}}}},
		}}},
	})
	if err != nil {
		return 0, errors.Trace(err)
	}
	defer r.Close(ctx)
	var result struct {
		Count int `bson:"count"`
	}
	if r.Next(ctx) {
		if err = r.Decode(&result); err != nil {
			return 0, errors.Trace(err)
		}
	}
	return result.Count, errors.Trace(r.Err())
}

func (m *MongoDB) SetMeta(ctx context.Context, name, value string) error {
	_, err := m.collection(m.MetaTable()).UpdateOne(ctx,
		bson.M{"_id": name},
		bson.M{"$set": bson.M{"value": value}},
		options.Update().SetUpsert(true))
	return errors.Trace(err)
}

func (m *MongoDB) GetMeta(ctx context.Context, name string) (string, error) {
	var doc struct {
		Value string `bson:"value"`
	}
	err := m.collection(m.MetaTable()).FindOne(ctx, bson.M{"_id": name}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", errors.NotFoundf("meta %s", name)
	}
	return doc.Value, errors.Trace(err)
}
