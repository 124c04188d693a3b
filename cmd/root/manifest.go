package main

import (
	"encoding/json"
	"time"

	"github.com/gofrs/uuid/v5"
	bolt "go.etcd.io/bbolt"

	"github.com/sjy-dv/quiver/config"
)

var manifestBucket = []byte("runs")

type runManifest struct {
	RunID     string    `json:"run_id"`
	Rank      int       `json:"rank"`
	WorldSize int       `json:"world_size"`
	Threads   int       `json:"threads"`
	StartedAt time.Time `json:"started_at"`
}

// writeRunManifest records this run in the local manifest store so
// operators can map data directories back to runs.
func writeRunManifest(db *bolt.DB, cfg *config.ConfigMap) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	m := runManifest{
		RunID:     id.String(),
		Rank:      cfg.Rank,
		WorldSize: cfg.WorldSize(),
		Threads:   cfg.NumThreads,
		StartedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(&m)
	if err != nil {
		return "", err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(manifestBucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(m.RunID), raw)
	})
	if err != nil {
		return "", err
	}
	return m.RunID, nil
}
