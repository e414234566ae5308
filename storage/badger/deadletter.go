// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package badger

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/conductor/core"
	"github.com/poiesic/conductor/storage"
)

// DeadLetterRepository implements storage.DeadLetterRepository for BadgerDB.
type DeadLetterRepository struct {
	backend *Backend
}

var _ storage.DeadLetterRepository = (*DeadLetterRepository)(nil)

// NewDeadLetterRepository creates a new DeadLetterRepository.
func NewDeadLetterRepository(backend *Backend) *DeadLetterRepository {
	return &DeadLetterRepository{
		backend: backend,
	}
}

// PutDeadLetter persists a dead letter, stamping CreatedAt if unset.
func (r *DeadLetterRepository) PutDeadLetter(ctx context.Context, dl *core.DeadLetter) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		if dl.CreatedAt.IsZero() {
			dl.CreatedAt = time.Now().UTC()
		}
		if err := tx.Set(makeDeadLetterKey(dl.ID), storage.MarshalDeadLetter(dl)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// ListDeadLetters returns every dead letter, oldest first.
func (r *DeadLetterRepository) ListDeadLetters(ctx context.Context) ([]*core.DeadLetter, error) {
	var letters []*core.DeadLetter
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(deadLetterPrefix), func(item *badger.Item) error {
			return item.Value(func(val []byte) error {
				dl, err := storage.UnmarshalDeadLetter(val)
				if err != nil {
					return err
				}
				letters = append(letters, dl)
				return nil
			})
		})
	}, false)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(letters, func(a, b *core.DeadLetter) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return letters, nil
}

// DeleteDeadLetter removes a dead letter by id.
func (r *DeadLetterRepository) DeleteDeadLetter(ctx context.Context, id string) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Delete(makeDeadLetterKey(id)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}
