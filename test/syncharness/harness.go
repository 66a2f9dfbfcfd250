// Package syncharness runs multi-client sync scenarios against a real
// server: each simulated client owns its own on-disk local store and sync
// engine, and talks HTTP to an httptest server backed by a real server
// database. Nothing is mocked below the network line.
package syncharness

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/classcomm/classcomm/internal/api"
	"github.com/classcomm/classcomm/internal/localstore"
	"github.com/classcomm/classcomm/internal/serverdb"
	ccsync "github.com/classcomm/classcomm/internal/sync"
	"github.com/classcomm/classcomm/internal/syncclient"
)

// Harness owns the server side of a scenario: one server database and one
// HTTP server, shared by every simulated client.
type Harness struct {
	t      *testing.T
	Store  *serverdb.ServerDB
	Server *httptest.Server
}

// SimClient is one synchronizing device: a private local store plus an
// engine wired to the harness server over HTTP.
type SimClient struct {
	t      *testing.T
	Name   string
	UserID string
	Store  *localstore.Store
	Engine *ccsync.Engine
}

// NewHarness starts a server over a fresh database in a temp dir.
func NewHarness(t *testing.T) *Harness {
	t.Helper()

	store, err := serverdb.Open(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("open server db: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	srv := api.NewServer(api.Config{
		MaxPushBatch: 1000,
		MaxPullLimit: 5000,
		MaxBodyBytes: 10 << 20,
	}, store)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	return &Harness{t: t, Store: store, Server: ts}
}

// NewUser provisions a tenant and returns its id and a fresh API key.
func (h *Harness) NewUser(email string) (userID, apiKey string) {
	h.t.Helper()
	user, err := h.Store.CreateUser(email)
	if err != nil {
		h.t.Fatalf("create user %s: %v", email, err)
	}
	key, _, err := h.Store.GenerateAPIKey(user.ID, "harness")
	if err != nil {
		h.t.Fatalf("generate api key for %s: %v", email, err)
	}
	return user.ID, key
}

// NewClient builds a simulated device for the given tenant. Each client gets
// its own data directory, so restarts can reuse it via ReopenClient.
func (h *Harness) NewClient(name, userID, apiKey string) *SimClient {
	h.t.Helper()
	return h.openClient(name, userID, apiKey, h.t.TempDir())
}

// ReopenClient simulates a process restart: the previous client must be
// closed first, then its data directory is opened again.
func (h *Harness) ReopenClient(c *SimClient, apiKey string) *SimClient {
	h.t.Helper()
	return h.openClient(c.Name, c.UserID, apiKey, filepath.Dir(c.Store.Path()))
}

func (h *Harness) openClient(name, userID, apiKey, dir string) *SimClient {
	h.t.Helper()

	store, err := localstore.Open(dir)
	if err != nil {
		h.t.Fatalf("open local store for %s: %v", name, err)
	}
	h.t.Cleanup(func() { store.Close() })

	clientID, _, err := store.ClientState()
	if err != nil {
		h.t.Fatalf("client state for %s: %v", name, err)
	}

	transport := syncclient.New(h.Server.URL, apiKey, clientID)
	engine := ccsync.New(store, transport, ccsync.Options{Interval: time.Hour})
	if err := engine.Init(context.Background()); err != nil {
		h.t.Fatalf("init engine for %s: %v", name, err)
	}

	return &SimClient{t: h.t, Name: name, UserID: userID, Store: store, Engine: engine}
}

// Put writes a document locally, stamping the client's tenant as owner.
// Extra sync metadata is added by the store.
func (c *SimClient) Put(table, id string, doc map[string]any) {
	c.t.Helper()
	if _, ok := doc["userId"]; !ok && table != "settings" {
		doc["userId"] = c.UserID
	}
	data, err := json.Marshal(doc)
	if err != nil {
		c.t.Fatalf("%s: marshal %s/%s: %v", c.Name, table, id, err)
	}
	if _, err := c.Store.Put(table, id, data); err != nil {
		c.t.Fatalf("%s: put %s/%s: %v", c.Name, table, id, err)
	}
}

// Delete tombstones a local record.
func (c *SimClient) Delete(table, id string) {
	c.t.Helper()
	if _, err := c.Store.Delete(table, id); err != nil {
		c.t.Fatalf("%s: delete %s/%s: %v", c.Name, table, id, err)
	}
}

// Sync runs one push-then-pull cycle and fails the test on any error.
func (c *SimClient) Sync() ccsync.CycleStats {
	c.t.Helper()
	stats, err := c.Engine.SyncNow(context.Background())
	if err != nil {
		c.t.Fatalf("%s: sync: %v", c.Name, err)
	}
	return stats
}

// Records returns the live records of a table, sorted by id.
func (c *SimClient) Records(table string) []localstore.Record {
	c.t.Helper()
	recs, err := c.Store.List(table)
	if err != nil {
		c.t.Fatalf("%s: list %s: %v", c.Name, table, err)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs
}

// Doc returns a live record's snapshot decoded to a map.
func (c *SimClient) Doc(table, id string) map[string]any {
	c.t.Helper()
	rec, err := c.Store.Get(table, id)
	if err != nil {
		c.t.Fatalf("%s: get %s/%s: %v", c.Name, table, id, err)
	}
	return decodeDoc(c.t, rec.Data)
}

// Gone reports whether a record is absent or tombstoned locally.
func (c *SimClient) Gone(table, id string) bool {
	c.t.Helper()
	_, err := c.Store.Get(table, id)
	return err != nil
}

// NewID returns a fresh record id.
func NewID() string { return uuid.NewString() }

func decodeDoc(t *testing.T, data json.RawMessage) map[string]any {
	t.Helper()
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return doc
}

// AssertConverged fails unless every client holds the same record set for
// the table: same ids, same snapshots, same resolution metadata.
func AssertConverged(t *testing.T, table string, clients ...*SimClient) {
	t.Helper()
	if len(clients) < 2 {
		t.Fatal("need at least two clients to compare")
	}

	ref := clients[0]
	refRecs := ref.Records(table)
	for _, other := range clients[1:] {
		recs := other.Records(table)
		if len(recs) != len(refRecs) {
			t.Fatalf("%s diverged on %s: %d records vs %d on %s",
				other.Name, table, len(recs), len(refRecs), ref.Name)
		}
		for i := range refRecs {
			if recs[i].ID != refRecs[i].ID {
				t.Fatalf("%s diverged on %s: record %s vs %s",
					other.Name, table, recs[i].ID, refRecs[i].ID)
			}
			if recs[i].Meta != refRecs[i].Meta {
				t.Errorf("%s diverged on %s/%s metadata: %+v vs %+v",
					other.Name, table, recs[i].ID, recs[i].Meta, refRecs[i].Meta)
			}
			a := decodeDoc(t, refRecs[i].Data)
			b := decodeDoc(t, recs[i].Data)
			if !reflect.DeepEqual(a, b) {
				t.Errorf("%s diverged on %s/%s snapshot:\n  %s: %v\n  %s: %v",
					other.Name, table, recs[i].ID, ref.Name, a, other.Name, b)
			}
		}
	}
}
