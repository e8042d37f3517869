package statestore

import (
	"encoding/json"
	"time"

	"github.com/boltdb/bolt"
)

var (
	estimatorBucket = []byte("estimator")
	correctorBucket = []byte("corrector")
	stateKey        = []byte("state")
)

// BoltStore keeps both namespaces in a single boltdb file, one bucket
// per namespace. Useful where the state dir lives on flash and per-write
// file churn is unwanted.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) LoadEstimator() (EstimatorState, error) {
	state := DefaultEstimatorState()
	if err := s.load(estimatorBucket, &state); err != nil {
		log.Warnf("Resetting estimator state to defaults: %v", err)
		return DefaultEstimatorState(), nil
	}
	return state, nil
}

func (s *BoltStore) SaveEstimator(state EstimatorState) error {
	state.Version = schemaVersion
	return s.save(estimatorBucket, &state)
}

func (s *BoltStore) LoadCorrector() (CorrectorState, error) {
	state := DefaultCorrectorState()
	if err := s.load(correctorBucket, &state); err != nil {
		log.Warnf("Resetting corrector state to defaults: %v", err)
		return DefaultCorrectorState(), nil
	}
	return state, nil
}

func (s *BoltStore) SaveCorrector(state CorrectorState) error {
	state.Version = schemaVersion
	return s.save(correctorBucket, &state)
}

func (s *BoltStore) load(bucket []byte, v interface{}) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil // No state yet, keep defaults.
		}
		data := b.Get(stateKey)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, v)
	})
}

func (s *BoltStore) save(bucket []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucket)
		if err != nil {
			return err
		}
		return b.Put(stateKey, data)
	})
}
