//go:build integration

package mongo_test

import (
	"context"
	"testing"

	mongomodule "github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/backlog/internal/storetest"
	"github.com/xraph/backlog/store"
	"github.com/xraph/backlog/store/mongo"
)

var _ store.Store = (*mongo.Store)(nil)

// setupMongo starts a MongoDB container and returns its connection URI.
func setupMongo(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	container, err := mongomodule.Run(ctx, "mongo:7")
	if err != nil {
		t.Fatalf("start mongo container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}
	return uri
}

func TestMongoStore(t *testing.T) {
	uri := setupMongo(t)
	ctx := context.Background()

	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Disconnect(ctx) })

	storetest.Run(t, func(t *testing.T) store.Store {
		// A fresh database per subtest keeps them isolated.
		db := client.Database("backlog_test_" + bson.NewObjectID().Hex())
		t.Cleanup(func() { _ = db.Drop(ctx) })

		s := mongo.New(db)
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		return s
	})
}

func TestOpenMigrateIdempotent(t *testing.T) {
	uri := setupMongo(t)
	ctx := context.Background()

	s, err := mongo.Open(ctx, uri, mongo.WithDatabase("backlog_open"), mongo.WithPrefix("app:"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	for range 2 {
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("migrate: %v", err)
		}
	}

	j := storetest.NewJob("send", "mail", "")
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var raw bson.M
	if err := s.DB().Collection("backlog_jobs").FindOne(ctx, bson.M{"_id": j.ID.String()}).Decode(&raw); err != nil {
		t.Fatalf("find raw: %v", err)
	}
	if raw["queue"] != "app:mail" {
		t.Fatalf("stored queue = %v, want app:mail", raw["queue"])
	}

	queues, err := s.ListQueues(ctx)
	if err != nil || len(queues) != 1 || queues[0] != "mail" {
		t.Fatalf("ListQueues = %v, %v", queues, err)
	}
}
