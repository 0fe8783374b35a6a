package shellcache

import (
	"bytes"
	"encoding/gob"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout:
//
//	g:<generation>              -> generationMeta
//	e:<generation>\x00<request> -> storedEntry (zstd body)
const (
	genPrefix   = "g:"
	entryPrefix = "e:"
	keySep      = "\x00"
)

type generationMeta struct {
	CreatedAt int64 // unix seconds
}

type levelStorage struct {
	db *leveldb.DB

	// serializes generation creation, deletion and writes; reads go to the
	// db directly
	mu sync.Mutex

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// OpenLevelStorage opens (or creates) a LevelDB-backed CacheStorage at path.
func OpenLevelStorage(path string) (CacheStorage, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrap(err, "leveldb.OpenFile")
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderCRC(false))
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "zstd.NewWriter")
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "zstd.NewReader")
	}
	return &levelStorage{db: db, enc: enc, dec: dec}, nil
}

func (s *levelStorage) Close() error {
	s.dec.Close()
	_ = s.enc.Close()
	return s.db.Close()
}

func (s *levelStorage) Open(name string) (Cache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok, err := s.db.Has([]byte(genPrefix+name), nil)
	if err != nil {
		return nil, errors.Wrap(err, "leveldb.Has")
	}
	if !ok {
		b, err := encodeGob(generationMeta{CreatedAt: time.Now().Unix()})
		if err != nil {
			return nil, err
		}
		if err := s.db.Put([]byte(genPrefix+name), b, nil); err != nil {
			return nil, errors.Wrap(err, "leveldb.Put")
		}
	}
	return &levelCache{s: s, name: name}, nil
}

func (s *levelStorage) Lookup(name string) (Cache, bool, error) {
	ok, err := s.Has(name)
	if err != nil || !ok {
		return nil, false, err
	}
	return &levelCache{s: s, name: name}, true, nil
}

func (s *levelStorage) Has(name string) (bool, error) {
	ok, err := s.db.Has([]byte(genPrefix+name), nil)
	if err != nil {
		return false, errors.Wrap(err, "leveldb.Has")
	}
	return ok, nil
}

func (s *levelStorage) Names() ([]string, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte(genPrefix)), nil)
	defer it.Release()

	var out []string
	for it.Next() {
		out = append(out, string(bytes.TrimPrefix(it.Key(), []byte(genPrefix))))
	}
	if err := it.Error(); err != nil {
		return nil, errors.Wrap(err, "iterate generations")
	}
	sort.Strings(out)
	return out, nil
}

func (s *levelStorage) Delete(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.db.Has([]byte(genPrefix+name), nil)
	if err != nil {
		return false, errors.Wrap(err, "leveldb.Has")
	}

	batch := new(leveldb.Batch)
	it := s.db.NewIterator(util.BytesPrefix(entryKeyPrefix(name)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return false, errors.Wrap(err, "iterate entries")
	}
	batch.Delete([]byte(genPrefix + name))
	if err := s.db.Write(batch, nil); err != nil {
		return false, errors.Wrap(err, "leveldb.Write")
	}
	return ok, nil
}

func entryKeyPrefix(name string) []byte {
	return []byte(entryPrefix + name + keySep)
}

func entryKey(name, key string) []byte {
	return []byte(entryPrefix + name + keySep + key)
}

func (s *levelStorage) encodeEntry(resp Response) ([]byte, error) {
	ent := newStoredEntry(resp)
	if len(ent.Body) > 0 {
		ent.Body = s.enc.EncodeAll(ent.Body, make([]byte, 0, len(ent.Body)))
		ent.Compressed = true
	}
	return encodeGob(ent)
}

func (s *levelStorage) decodeEntry(b []byte) (Response, error) {
	var ent storedEntry
	if err := decodeGob(b, &ent); err != nil {
		return Response{}, err
	}
	if ent.Compressed {
		body, err := s.dec.DecodeAll(ent.Body, nil)
		if err != nil {
			return Response{}, errors.Wrap(err, "zstd decode")
		}
		ent.Body = body
	}
	return ent.response(), nil
}

type levelCache struct {
	s    *levelStorage
	name string
}

func (c *levelCache) Name() string { return c.name }

func (c *levelCache) Match(key string) (Response, bool, error) {
	b, err := c.s.db.Get(entryKey(c.name, key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Response{}, false, nil
	}
	if err != nil {
		return Response{}, false, errors.Wrap(err, "leveldb.Get")
	}
	resp, err := c.s.decodeEntry(b)
	if err != nil {
		return Response{}, false, err
	}
	return resp, true, nil
}

func (c *levelCache) Put(key string, resp Response) error {
	return c.PutAll([]Entry{{Key: key, Response: resp}})
}

func (c *levelCache) PutAll(entries []Entry) error {
	batch := new(leveldb.Batch)
	for _, e := range entries {
		b, err := c.s.encodeEntry(e.Response)
		if err != nil {
			return errors.Wrapf(err, "encode %s", e.Key)
		}
		batch.Put(entryKey(c.name, e.Key), b)
	}

	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	ok, err := c.s.db.Has([]byte(genPrefix+c.name), nil)
	if err != nil {
		return errors.Wrap(err, "leveldb.Has")
	}
	if !ok {
		return errors.Wrap(ErrGenerationDeleted, c.name)
	}
	if err := c.s.db.Write(batch, nil); err != nil {
		return errors.Wrap(err, "leveldb.Write")
	}
	return nil
}

func (c *levelCache) Keys() ([]string, error) {
	prefix := entryKeyPrefix(c.name)
	it := c.s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	var out []string
	for it.Next() {
		out = append(out, string(bytes.TrimPrefix(it.Key(), prefix)))
	}
	if err := it.Error(); err != nil {
		return nil, errors.Wrap(err, "iterate entries")
	}
	return out, nil
}

// ---- encoding ----

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, errors.Wrap(err, "gob encode")
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	dec := gob.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "gob decode")
	}
	return nil
}

func init() {
	gob.Register(http.Header{})
}
