package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	ejdb2 "ejdb2.dev/ejdb2go"
)

const collection = "records"

// Record is the document shape the workers store.
type Record struct {
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	Name      string `json:"name"`
	Value     int    `json:"value"`
	Data      string `json:"data"`
}

// Stats counts completed operations.
type Stats struct {
	Puts     atomic.Int64
	Patches  atomic.Int64
	Deletes  atomic.Int64
	Gets     atomic.Int64
	Queries  atomic.Int64
	Backups  atomic.Int64
	Verified atomic.Int64
	Errors   atomic.Int64
}

type stresser struct {
	db        *ejdb2.DB
	backupDir string
	stats     Stats

	// pauseMu pauses the endpoints during verification: requests hold it
	// for reading, verify holds it for writing.
	pauseMu sync.RWMutex
	// backupMu guards lastBackup.
	backupMu   sync.Mutex
	lastBackup string
	maxID      atomic.Int64
}

func newStresser(db *ejdb2.DB, backupDir string) *stresser {
	return &stresser{db: db, backupDir: backupDir}
}

func (s *stresser) prepare() error {
	if err := s.db.EnsureStringIndex(collection, "/name", false); err != nil {
		return err
	}
	return s.db.EnsureInt64Index(collection, "/value", false)
}

func (s *stresser) mux() *http.ServeMux {
	var mux = http.NewServeMux()
	mux.HandleFunc("POST /put", s.paused(s.handlePut))
	mux.HandleFunc("POST /patch", s.paused(s.handlePatch))
	mux.HandleFunc("POST /delete", s.paused(s.handleDelete))
	mux.HandleFunc("POST /bulk", s.paused(s.handleBulk))
	mux.HandleFunc("GET /get", s.paused(s.handleGet))
	mux.HandleFunc("GET /query", s.paused(s.handleQuery))
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

func (s *stresser) paused(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.pauseMu.RLock()
		defer s.pauseMu.RUnlock()
		h(w, r)
	}
}

func newRecord(name string) Record {
	var now = time.Now().Format(time.RFC3339)
	return Record{
		CreatedAt: now,
		UpdatedAt: now,
		Name:      name,
		Value:     rand.Intn(10000),
		Data:      randomString(100),
	}
}

func (s *stresser) put(r Record) (int64, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return 0, err
	}
	id, err := s.db.Put(collection, string(b), 0)
	if err != nil {
		return 0, err
	}
	for {
		var cur = s.maxID.Load()
		if id <= cur || s.maxID.CompareAndSwap(cur, id) {
			break
		}
	}
	return id, nil
}

// randomID picks an id which may or may not exist.
func (s *stresser) randomID() int64 {
	return rand.Int63n(s.maxID.Load()+10) + 1
}

func (s *stresser) fail(w http.ResponseWriter, err error) {
	if ejdb2.IsNotFound(err) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.stats.Errors.Add(1)
	log.WithField("err", err).Error("operation failed")
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func (s *stresser) handlePut(w http.ResponseWriter, r *http.Request) {
	id, err := s.put(newRecord(fmt.Sprintf("record_%d", rand.Int63())))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.stats.Puts.Add(1)
	writeJSON(w, map[string]any{"id": id})
}

func (s *stresser) handlePatch(w http.ResponseWriter, r *http.Request) {
	var id = s.randomID()
	var patch = fmt.Sprintf(`{"value":%d,"data":%q,"updated_at":%q}`,
		rand.Intn(10000), randomString(100), time.Now().Format(time.RFC3339))

	if err := s.db.MergeOrPut(collection, patch, id); err != nil {
		s.fail(w, err)
		return
	}
	s.stats.Patches.Add(1)
	writeJSON(w, map[string]any{"id": id})
}

func (s *stresser) handleDelete(w http.ResponseWriter, r *http.Request) {
	var id = s.randomID()
	if err := s.db.Delete(collection, id); err != nil {
		s.fail(w, err)
		return
	}
	s.stats.Deletes.Add(1)
	writeJSON(w, map[string]any{"deleted_id": id})
}

func (s *stresser) handleBulk(w http.ResponseWriter, r *http.Request) {
	const count = 100
	var prefix = time.Now().UnixNano()
	for i := 0; i < count; i++ {
		if _, err := s.put(newRecord(fmt.Sprintf("bulk_%d_%d", prefix, i))); err != nil {
			s.fail(w, err)
			return
		}
	}
	s.stats.Puts.Add(count)
	writeJSON(w, map[string]any{"inserted": count})
}

func (s *stresser) handleGet(w http.ResponseWriter, r *http.Request) {
	var id = s.randomID()
	if v := r.URL.Query().Get("id"); v != "" {
		var err error
		if id, err = strconv.ParseInt(v, 10, 64); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := s.db.WriteDocument(w, collection, id, false); err != nil {
		s.fail(w, err)
		return
	}
	s.stats.Gets.Add(1)
}

func (s *stresser) handleQuery(w http.ResponseWriter, r *http.Request) {
	q, err := s.db.QueryCollection(collection, "/[value >= :min] and /[value < :max] | limit 10")
	if err != nil {
		s.fail(w, err)
		return
	}
	defer q.Close()

	var lo = rand.Intn(10000)
	if err = q.BindInt64(ejdb2.Named("min"), int64(lo)); err == nil {
		err = q.BindInt64(ejdb2.Named("max"), int64(lo+500))
	}
	if err != nil {
		s.fail(w, err)
		return
	}

	var records []Record
	for doc, err := range q.All() {
		if err != nil {
			s.fail(w, err)
			return
		}
		var rec Record
		if err := doc.Decode(&rec); err != nil {
			s.fail(w, err)
			return
		}
		records = append(records, rec)
	}
	s.stats.Queries.Add(1)
	writeJSON(w, records)
}

func (s *stresser) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.snapshot())
}

func (s *stresser) snapshot() map[string]int64 {
	return map[string]int64{
		"puts":     s.stats.Puts.Load(),
		"patches":  s.stats.Patches.Load(),
		"deletes":  s.stats.Deletes.Load(),
		"gets":     s.stats.Gets.Load(),
		"queries":  s.stats.Queries.Load(),
		"backups":  s.stats.Backups.Load(),
		"verified": s.stats.Verified.Load(),
		"errors":   s.stats.Errors.Load(),
	}
}

func (s *stresser) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.db.Info(); err != nil {
		http.Error(w, "database info failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// every runs fn at interval until ctx is done, counting failures as errors.
func (s *stresser) every(ctx context.Context, name string, interval time.Duration, fn func() error) {
	if interval <= 0 {
		return
	}
	var ticker = time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.WithField("worker", name).Debug("worker stopped")
			return
		case <-ticker.C:
			if err := fn(); err != nil {
				log.WithFields(log.Fields{"worker": name, "err": err}).Error("periodic task failed")
				s.stats.Errors.Add(1)
			}
		}
	}
}

// backup takes an online backup while workers keep running.
func (s *stresser) backup() error {
	var target = filepath.Join(s.backupDir, fmt.Sprintf("backup-%d.db", time.Now().UnixNano()))
	ts, err := s.db.OnlineBackup(target)
	if err != nil {
		return err
	}
	s.backupMu.Lock()
	s.lastBackup = target
	s.backupMu.Unlock()

	s.stats.Backups.Add(1)
	log.WithFields(log.Fields{"target": target, "at": ts}).Debug("backup complete")
	return nil
}

// verify pauses the endpoints, takes a fresh backup and checks that it holds
// exactly the documents of the live database.
func (s *stresser) verify() error {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()

	if err := s.backup(); err != nil {
		return err
	}
	s.backupMu.Lock()
	var target = s.lastBackup
	s.backupMu.Unlock()

	live, err := count(s.db)
	if err != nil {
		return errors.WithMessage(err, "counting live documents")
	}
	copyDB, err := ejdb2.Open(target, ejdb2.WithReadonly())
	if err != nil {
		return errors.WithMessagef(err, "opening backup %s", target)
	}
	defer copyDB.Close()

	backed, err := count(copyDB)
	if err != nil {
		return errors.WithMessage(err, "counting backup documents")
	}
	if backed != live {
		return errors.Errorf("backup %s holds %d documents, database holds %d", target, backed, live)
	}
	s.stats.Verified.Add(1)
	log.WithFields(log.Fields{"target": target, "documents": live}).Info("backup verified")
	return nil
}

func count(db *ejdb2.DB) (int64, error) {
	q, err := db.Query("@" + collection + "/* | count")
	if err != nil {
		return 0, err
	}
	defer q.Close()
	return q.ScalarInt64()
}

func (s *stresser) report() {
	var fields = log.Fields{}
	for k, v := range s.snapshot() {
		fields[k] = humanize.Comma(v)
	}
	if meta, err := s.db.Meta(); err == nil {
		fields["size"] = humanize.IBytes(uint64(meta.Size))
	}
	log.WithFields(fields).Info("stats")
}

// worker continuously calls the stress endpoints.
func (s *stresser) worker(ctx context.Context, id int, baseURL string) {
	var client = &http.Client{Timeout: 30 * time.Second}
	var endpoints = []string{"/put", "/patch", "/delete", "/get", "/query", "/bulk"}
	var weights = []int{20, 15, 5, 25, 25, 10}

	var weighted []string
	for i, ep := range endpoints {
		for j := 0; j < weights[i]; j++ {
			weighted = append(weighted, ep)
		}
	}

	// Let the server start.
	time.Sleep(100 * time.Millisecond)

	for {
		select {
		case <-ctx.Done():
			log.WithField("worker", id).Debug("stress worker stopped")
			return
		default:
		}

		var endpoint = weighted[rand.Intn(len(weighted))]
		var method = http.MethodPost
		if endpoint == "/get" || endpoint == "/query" {
			method = http.MethodGet
		}

		req, _ := http.NewRequestWithContext(ctx, method, baseURL+endpoint, nil)
		resp, err := client.Do(req)

		if err != nil {
			// Expected under load and on shutdown.
			continue
		}
		resp.Body.Close()

		time.Sleep(time.Duration(1+rand.Intn(10)) * time.Millisecond)
	}
}

func randomString(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}
