// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package kv

import "github.com/syndtr/goleveldb/leveldb/util"

// Bucket provides a logical key namespace over a kv store.
type Bucket []byte

// MakeRange returns the full key range of the bucket.
func (b Bucket) MakeRange() Range {
	r := util.BytesPrefix(b)
	return Range{Start: r.Start, Limit: r.Limit}
}

// NewGetter creates a bucket getter from the source getter.
func (b Bucket) NewGetter(src Getter) Getter {
	return &bucketGetter{b, src}
}

// NewPutter creates a bucket putter from the source putter.
func (b Bucket) NewPutter(src Putter) Putter {
	return &bucketPutter{b, src}
}

// NewStore creates a bucket store from the source store.
func (b Bucket) NewStore(src GetPutter) GetPutter {
	return &struct {
		Getter
		Putter
	}{
		b.NewGetter(src),
		b.NewPutter(src),
	}
}

type bucketGetter struct {
	b   Bucket
	src Getter
}

func (g *bucketGetter) Get(key []byte) ([]byte, error) {
	return g.src.Get(append(append([]byte(nil), g.b...), key...))
}

func (g *bucketGetter) Has(key []byte) (bool, error) {
	return g.src.Has(append(append([]byte(nil), g.b...), key...))
}

func (g *bucketGetter) IsNotFound(err error) bool { return g.src.IsNotFound(err) }

func (g *bucketGetter) NewIterator(r Range) Iterator {
	inner := g.src.NewIterator(Range{
		Start: append(append([]byte(nil), g.b...), r.Start...),
		Limit: append(append([]byte(nil), g.b...), r.Limit...),
	})
	return &bucketIterator{len(g.b), inner}
}

type bucketPutter struct {
	b   Bucket
	src Putter
}

func (p *bucketPutter) Put(key, value []byte) error {
	return p.src.Put(append(append([]byte(nil), p.b...), key...), value)
}

func (p *bucketPutter) Delete(key []byte) error {
	return p.src.Delete(append(append([]byte(nil), p.b...), key...))
}

func (p *bucketPutter) NewBatch() Batch {
	return &bucketBatch{p.b, p.src.NewBatch()}
}

type bucketBatch struct {
	b     Bucket
	inner Batch
}

func (bb *bucketBatch) Put(key, value []byte) error {
	return bb.inner.Put(append(append([]byte(nil), bb.b...), key...), value)
}

func (bb *bucketBatch) Delete(key []byte) error {
	return bb.inner.Delete(append(append([]byte(nil), bb.b...), key...))
}

func (bb *bucketBatch) NewBatch() Batch { return bb.inner.NewBatch() }
func (bb *bucketBatch) Len() int        { return bb.inner.Len() }
func (bb *bucketBatch) Write() error    { return bb.inner.Write() }

type bucketIterator struct {
	skip  int
	inner Iterator
}

func (i *bucketIterator) Next() bool    { return i.inner.Next() }
func (i *bucketIterator) Release()      { i.inner.Release() }
func (i *bucketIterator) Error() error  { return i.inner.Error() }
func (i *bucketIterator) Key() []byte   { return i.inner.Key()[i.skip:] }
func (i *bucketIterator) Value() []byte { return i.inner.Value() }
