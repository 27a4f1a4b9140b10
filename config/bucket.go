package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Bucket names of the serialized layer record
const (
	BucketHead = "graph_head"
	BucketNode = "graph_node"
	BucketEdge = "graph_edge"
	BucketAttn = "graph_attn"
)

// Record is the bucketed, serialized form of a Configuration. Keys that
// belong to no bucket sit at the top level next to the four groups.
type Record map[string]any

var prefixBuckets = []struct {
	prefix string
	bucket string
}{
	{"G_H", BucketHead},
	{"G_N", BucketNode},
	{"G_E", BucketEdge},
	{"G_A", BucketAttn},
}

// Buckets lists the four group names in their canonical order
func Buckets() []string {
	out := make([]string, len(prefixBuckets))
	for i, pb := range prefixBuckets {
		out[i] = pb.bucket
	}
	return out
}

// Classify returns the bucket a flat key belongs to, or "" for the top level
func Classify(key string) string {
	for _, pb := range prefixBuckets {
		if strings.HasPrefix(key, pb.prefix) {
			return pb.bucket
		}
	}
	return ""
}

func isBucket(name string) bool {
	for _, pb := range prefixBuckets {
		if pb.bucket == name {
			return true
		}
	}
	return false
}

// Flat returns the flat attribute set of the configuration
func (c *Configuration) Flat() map[string]any {
	flat := map[string]any{
		"feat_type":  string(c.FeatType),
		"ACTION_NUM": c.ActionNum,
	}
	put := func(prefix string, lc LayerConfig) {
		flat[prefix+"_L_S"] = append([]int(nil), lc.Sizes...)
		flat[prefix+"_A"] = append([]string(nil), lc.Activations...)
		flat[prefix+"_B"] = lc.Bias
		flat[prefix+"_BN"] = lc.BatchNorm
		flat[prefix+"_D"] = lc.Dropout
	}
	put("G_H", c.Head)
	put("G_N", c.Node)
	put("G_E", c.Edge)
	put("G_A", c.Attn)
	flat["G_N_GRU"] = c.Node.GRU
	return flat
}

// Bucket groups a flat record by key prefix. The four groups are always present.
func Bucket(flat map[string]any) Record {
	rec := Record{}
	for _, b := range Buckets() {
		rec[b] = map[string]any{}
	}
	for k, v := range flat {
		if b := Classify(k); b != "" {
			rec[b].(map[string]any)[k] = v
			continue
		}
		rec[k] = v
	}
	return rec
}

// Flatten undoes Bucket. A top-level key that collides with a grouped key is an error.
func Flatten(rec Record) (map[string]any, error) {
	flat := map[string]any{}
	for k, v := range rec {
		if !isBucket(k) {
			if _, dup := flat[k]; dup {
				return nil, fmt.Errorf("duplicate key %q", k)
			}
			flat[k] = v
			continue
		}
		group, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("bucket %q is %T, not an object", k, v)
		}
		for gk, gv := range group {
			if _, dup := flat[gk]; dup {
				return nil, fmt.Errorf("duplicate key %q", gk)
			}
			flat[gk] = gv
		}
	}
	return flat, nil
}

// SaveConfig returns the bucketed record of the configuration
func (c *Configuration) SaveConfig() Record {
	return Bucket(c.Flat())
}

// WriteRecord writes a record as indented JSON
func WriteRecord(rec Record, path string) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config record: %v", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write config record: %v", err)
	}
	return nil
}

// ReadRecord loads a record written by WriteRecord
func ReadRecord(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config record: %v", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode config record: %v", err)
	}
	return rec, nil
}
