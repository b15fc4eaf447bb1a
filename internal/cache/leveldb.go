package cache

import (
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/koi-net/koinet/internal/rid"
)

// LevelDB is the default durable cache backend. Keys are RID strings,
// values are JSON-encoded bundles; the key layout makes per-type
// enumeration a prefix scan.
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens (or creates) the cache database under dir.
func OpenLevelDB(dir string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open cache at %s: %w", dir, err)
	}
	return &LevelDB{db: db}, nil
}

func (c *LevelDB) Read(r rid.RID) (rid.Bundle, error) {
	data, err := c.db.Get([]byte(r.String()), nil)
	if err == leveldb.ErrNotFound {
		return rid.Bundle{}, ErrNotFound
	}
	if err != nil {
		return rid.Bundle{}, fmt.Errorf("read %s: %w", r, err)
	}
	var bundle rid.Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return rid.Bundle{}, fmt.Errorf("decode %s: %w", r, err)
	}
	return bundle, nil
}

func (c *LevelDB) Write(b rid.Bundle) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode %s: %w", b.RID(), err)
	}
	if err := c.db.Put([]byte(b.RID().String()), data, nil); err != nil {
		return fmt.Errorf("write %s: %w", b.RID(), err)
	}
	return nil
}

func (c *LevelDB) Delete(r rid.RID) error {
	// leveldb's Delete is a no-op for absent keys, matching the contract.
	if err := c.db.Delete([]byte(r.String()), nil); err != nil {
		return fmt.Errorf("delete %s: %w", r, err)
	}
	return nil
}

func (c *LevelDB) Exists(r rid.RID) (bool, error) {
	has, err := c.db.Has([]byte(r.String()), nil)
	if err != nil {
		return false, fmt.Errorf("probe %s: %w", r, err)
	}
	return has, nil
}

func (c *LevelDB) List(types ...rid.Type) ([]rid.RID, error) {
	prefixes := keyPrefixes(types)
	var rids []rid.RID
	for _, prefix := range prefixes {
		iter := c.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
		for iter.Next() {
			r, err := rid.Parse(string(iter.Key()))
			if err != nil {
				continue
			}
			rids = append(rids, r)
		}
		iter.Release()
		if err := iter.Error(); err != nil {
			return nil, fmt.Errorf("list %q: %w", prefix, err)
		}
	}
	return rids, nil
}

func (c *LevelDB) Close() error {
	return c.db.Close()
}

func keyPrefixes(types []rid.Type) []string {
	if len(types) == 0 {
		return []string{"orn:"}
	}
	prefixes := make([]string, 0, len(types))
	for _, t := range types {
		prefixes = append(prefixes, "orn:"+string(t)+":")
	}
	return prefixes
}
