package metaads

import (
	"github.com/zeebo/xxh3"

	"adsync/pkg/records"
)

// Dedupe removes records that share a key tuple, keeping the last
// occurrence. Chunked range fetches overlap on boundary days, so the same
// ad-day row can arrive twice; the later copy wins. Input order is
// otherwise preserved and the input slice is not modified.
func Dedupe(recs []records.Record, keys []string) []records.Record {
	if len(recs) < 2 {
		return recs
	}

	last := make(map[uint64]int, len(recs))
	var buf []byte
	hashes := make([]uint64, len(recs))
	for i, rec := range recs {
		buf = buf[:0]
		for j, k := range keys {
			if j > 0 {
				buf = append(buf, 0)
			}
			buf = append(buf, rec.String(k)...)
		}
		h := xxh3.Hash(buf)
		hashes[i] = h
		last[h] = i
	}

	out := make([]records.Record, 0, len(last))
	for i, rec := range recs {
		if last[hashes[i]] == i {
			out = append(out, rec)
		}
	}
	return out
}
