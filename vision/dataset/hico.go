// Package dataset stores HICO samples in a SQLite index and serves them to
// the training data loader.
package dataset

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tsawler/go-agrnn/training"
	"gonum.org/v1/gonum/mat"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS samples(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	subset TEXT NOT NULL,
	name TEXT NOT NULL,
	node_num INTEGER NOT NULL,
	roi_labels TEXT NOT NULL,
	roi_scores TEXT NOT NULL,
	boxes BLOB NOT NULL,
	node_labels BLOB NOT NULL,
	features BLOB NOT NULL,
	spatial BLOB,
	one_hot BLOB
);
CREATE INDEX IF NOT EXISTS samples_subset ON samples(subset, id);`

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema in %s: %w", path, err)
	}
	return db, nil
}

// Hico is one subset of the index. It implements training.Dataset.
type Hico struct {
	db     *sql.DB
	subset string
	ids    []int
	cache  *CacheManager
}

// Open loads the row ids of subset from the database at path. Decoded
// samples are kept in an LRU cache of cacheSize entries.
func Open(path, subset string, cacheSize int) (*Hico, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("dataset index not found: %w", err)
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	rows, err := db.Query("SELECT id FROM samples WHERE subset = ? ORDER BY id", subset)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to list %s samples: %w", subset, err)
	}
	defer rows.Close()

	h := &Hico{db: db, subset: subset, cache: NewCacheManager(cacheSize)}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			db.Close()
			return nil, err
		}
		h.ids = append(h.ids, id)
	}
	if err := rows.Err(); err != nil {
		db.Close()
		return nil, err
	}
	return h, nil
}

// Len returns the number of samples in the subset
func (h *Hico) Len() int {
	return len(h.ids)
}

// Subset returns the subset name
func (h *Hico) Subset() string {
	return h.subset
}

// CacheStats reports the sample cache
func (h *Hico) CacheStats() CacheStats {
	return h.cache.Stats()
}

// Get decodes sample idx of the subset
func (h *Hico) Get(idx int) (*training.Sample, error) {
	if idx < 0 || idx >= len(h.ids) {
		return nil, fmt.Errorf("index %d out of range [0, %d)", idx, len(h.ids))
	}
	id := h.ids[idx]
	if s, ok := h.cache.Get(id); ok {
		return s, nil
	}

	var (
		name                string
		nodeNum             int
		labelsJS, scoresJS  string
		boxes, labels, feat []byte
		spatial, oneHot     []byte
	)
	err := h.db.QueryRow(`SELECT name, node_num, roi_labels, roi_scores, boxes, node_labels, features, spatial, one_hot
		FROM samples WHERE id = ?`, id).
		Scan(&name, &nodeNum, &labelsJS, &scoresJS, &boxes, &labels, &feat, &spatial, &oneHot)
	if err != nil {
		return nil, fmt.Errorf("failed to read sample %d: %w", id, err)
	}

	s := &training.Sample{Name: name}
	if err := json.Unmarshal([]byte(labelsJS), &s.RoiLabels); err != nil {
		return nil, fmt.Errorf("sample %s: roi labels: %w", name, err)
	}
	if err := json.Unmarshal([]byte(scoresJS), &s.RoiScores); err != nil {
		return nil, fmt.Errorf("sample %s: roi scores: %w", name, err)
	}
	for _, m := range []struct {
		field string
		raw   []byte
		dst   **mat.Dense
	}{
		{"boxes", boxes, &s.Boxes},
		{"node labels", labels, &s.NodeLabels},
		{"features", feat, &s.Features},
		{"spatial", spatial, &s.Spatial},
		{"one hot", oneHot, &s.OneHot},
	} {
		if len(m.raw) == 0 {
			continue
		}
		d := &mat.Dense{}
		if err := d.UnmarshalBinary(m.raw); err != nil {
			return nil, fmt.Errorf("sample %s: %s: %w", name, m.field, err)
		}
		*m.dst = d
	}
	if s.NodeNum() != nodeNum {
		return nil, fmt.Errorf("sample %s: %d feature rows for %d nodes", name, s.NodeNum(), nodeNum)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	h.cache.Put(id, s)
	return s, nil
}

// Close releases the database
func (h *Hico) Close() error {
	return h.db.Close()
}

// Writer inserts samples into an index, creating it when needed
type Writer struct {
	db *sql.DB
	tx *sql.Tx
	n  int
}

// Create opens path for writing. Inserts are batched into one transaction
// committed by Close.
func Create(path string) (*Writer, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	tx, err := db.Begin()
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Writer{db: db, tx: tx}, nil
}

// Add validates and inserts one sample into subset
func (w *Writer) Add(subset string, s *training.Sample) error {
	if err := s.Validate(); err != nil {
		return err
	}
	labels, err := json.Marshal(s.RoiLabels)
	if err != nil {
		return err
	}
	scores, err := json.Marshal(s.RoiScores)
	if err != nil {
		return err
	}

	blobs := make([][]byte, 5)
	for i, m := range []*mat.Dense{s.Boxes, s.NodeLabels, s.Features, s.Spatial, s.OneHot} {
		if m == nil {
			continue
		}
		if blobs[i], err = m.MarshalBinary(); err != nil {
			return fmt.Errorf("sample %s: %w", s.Name, err)
		}
	}

	_, err = w.tx.Exec(`INSERT INTO samples(subset, name, node_num, roi_labels, roi_scores, boxes, node_labels, features, spatial, one_hot)
		VALUES(?,?,?,?,?,?,?,?,?,?)`,
		subset, s.Name, s.NodeNum(), string(labels), string(scores),
		blobs[0], blobs[1], blobs[2], blobs[3], blobs[4])
	if err != nil {
		return fmt.Errorf("failed to insert sample %s: %w", s.Name, err)
	}
	w.n++
	return nil
}

// Count returns the number of samples added so far
func (w *Writer) Count() int {
	return w.n
}

// Close commits the inserts and closes the database
func (w *Writer) Close() error {
	if err := w.tx.Commit(); err != nil {
		w.db.Close()
		return fmt.Errorf("failed to commit samples: %w", err)
	}
	return w.db.Close()
}
