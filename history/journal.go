// Copyright (c) 2024 The stakesuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package history persists a journal of completed consolidations in a
// bolt-backed database, so operators can audit what the automation spent
// across restarts.
package history

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/lightningnetwork/lnd/tlv"
	"github.com/stakesuite/coinctrld/consolidator"
	"github.com/stakesuite/coinctrld/internal/cfgutil"
)

var (
	// journalBucketKey is the top level bucket holding one serialized
	// record per consolidation, keyed by a big-endian sequence number so
	// iteration order is insertion order.
	journalBucketKey = []byte("consolidations")

	// byteOrder is the endianness used for the sequence keys.
	byteOrder = binary.BigEndian
)

// dbTimeout is how long opening the database file waits on a lock held by
// another process before failing.
const dbTimeout = 60 * time.Second

// Record field types.  New fields must be appended with fresh type numbers
// to stay readable by older builds.
const (
	typeTime    tlv.Type = 1
	typeAccount tlv.Type = 2
	typeTxID    tlv.Type = 3
	typeGross   tlv.Type = 4
	typeFee     tlv.Type = 5
	typeNet     tlv.Type = 6
	typeInputs  tlv.Type = 7
)

// Journal is an append-only store of completed consolidations.  It
// implements the consolidator.Recorder interface.
type Journal struct {
	db   walletdb.DB
	path string
}

// Compile-time check to ensure Journal satisfies the Recorder interface.
var _ consolidator.Recorder = (*Journal)(nil)

// Open opens the journal database at the given path, creating it when it
// does not exist yet.
func Open(path string) (*Journal, error) {
	exists, err := cfgutil.FileExists(path)
	if err != nil {
		return nil, err
	}

	var db walletdb.DB
	if exists {
		db, err = walletdb.Open("bdb", path, false, dbTimeout, false)
	} else {
		db, err = walletdb.Create("bdb", path, false, dbTimeout, false)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot open journal %s: %w", path, err)
	}

	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		_, err := tx.CreateTopLevelBucket(journalBucketKey)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot initialize journal %s: %w",
			path, err)
	}

	log.Infof("Consolidation journal opened at %s", path)
	return &Journal{db: db, path: path}, nil
}

// Close flushes and closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Path returns the journal's database file path.
func (j *Journal) Path() string {
	return j.path
}

// Record appends one consolidation to the journal.
//
// This satisfies the consolidator.Recorder interface.
func (j *Journal) Record(record *consolidator.Consolidation) error {
	value, err := serializeConsolidation(record)
	if err != nil {
		return err
	}

	err = walletdb.Update(j.db, func(tx walletdb.ReadWriteTx) error {
		bucket := tx.ReadWriteBucket(journalBucketKey)
		if bucket == nil {
			return walletdb.ErrBucketNotFound
		}

		sequence, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		var key [8]byte
		byteOrder.PutUint64(key[:], sequence)
		return bucket.Put(key[:], value)
	})
	if err != nil {
		return err
	}

	log.Debugf("Journaled consolidation %v of account %q",
		record.TxID, record.Account)
	return nil
}

// Consolidations returns journaled consolidations, newest first.  A max of
// zero returns every record.
func (j *Journal) Consolidations(max int) ([]consolidator.Consolidation, error) {
	var records []consolidator.Consolidation
	err := walletdb.View(j.db, func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(journalBucketKey)
		if bucket == nil {
			return nil
		}

		cursor := bucket.ReadCursor()
		for k, v := cursor.Last(); k != nil; k, v = cursor.Prev() {
			if max > 0 && len(records) >= max {
				break
			}
			record, err := deserializeConsolidation(v)
			if err != nil {
				return fmt.Errorf("journal entry %x: %w", k, err)
			}
			records = append(records, *record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// serializeConsolidation encodes one record as a TLV stream.
func serializeConsolidation(record *consolidator.Consolidation) ([]byte, error) {
	var (
		timestamp = uint64(record.Time.Unix())
		account   = []byte(record.Account)
		txid      = [32]byte(record.TxID)
		gross     = uint64(record.Gross)
		fee       = uint64(record.Fee)
		net       = uint64(record.Net)
		inputs    = record.Inputs
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeTime, &timestamp),
		tlv.MakePrimitiveRecord(typeAccount, &account),
		tlv.MakePrimitiveRecord(typeTxID, &txid),
		tlv.MakePrimitiveRecord(typeGross, &gross),
		tlv.MakePrimitiveRecord(typeFee, &fee),
		tlv.MakePrimitiveRecord(typeNet, &net),
		tlv.MakePrimitiveRecord(typeInputs, &inputs),
	)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := stream.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// deserializeConsolidation decodes a record produced by
// serializeConsolidation.
func deserializeConsolidation(value []byte) (*consolidator.Consolidation, error) {
	var (
		timestamp uint64
		account   []byte
		txid      [32]byte
		gross     uint64
		fee       uint64
		net       uint64
		inputs    uint32
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeTime, &timestamp),
		tlv.MakePrimitiveRecord(typeAccount, &account),
		tlv.MakePrimitiveRecord(typeTxID, &txid),
		tlv.MakePrimitiveRecord(typeGross, &gross),
		tlv.MakePrimitiveRecord(typeFee, &fee),
		tlv.MakePrimitiveRecord(typeNet, &net),
		tlv.MakePrimitiveRecord(typeInputs, &inputs),
	)
	if err != nil {
		return nil, err
	}
	if err := stream.Decode(bytes.NewReader(value)); err != nil {
		return nil, err
	}

	return &consolidator.Consolidation{
		Time:    time.Unix(int64(timestamp), 0),
		Account: string(account),
		TxID:    chainhash.Hash(txid),
		Gross:   btcutil.Amount(gross),
		Fee:     btcutil.Amount(fee),
		Net:     btcutil.Amount(net),
		Inputs:  inputs,
	}, nil
}
