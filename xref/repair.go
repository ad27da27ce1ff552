package xref

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"strconv"

	"github.com/wudi/pagekit/ir/raw"
)

var objHeaderRe = regexp.MustCompile(`(?m)^(\d+)[ \t]+(\d+)[ \t]+obj\b`)

type repaired struct {
	table   *table
	trailer raw.Dictionary
}

// repairScan reconstructs the xref table by scanning the whole file for
// "N G obj" headers and the last trailer dictionary. Later definitions of
// the same object win, matching incremental-update ordering.
func repairScan(ctx context.Context, data []byte) (*repaired, error) {
	t := &table{
		entries: make(map[int]entry),
		objstm:  make(map[int]objStreamEntry),
		kind:    "repaired",
	}

	for _, loc := range objHeaderRe.FindAllSubmatchIndex(data, -1) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		numStart, numEnd := loc[2], loc[3]
		genStart, genEnd := loc[4], loc[5]
		num, err := strconv.Atoi(string(data[numStart:numEnd]))
		if err != nil {
			continue
		}
		gen, err := strconv.Atoi(string(data[genStart:genEnd]))
		if err != nil {
			continue
		}
		t.entries[num] = entry{offset: int64(numStart), gen: gen}
	}
	if len(t.entries) == 0 {
		return nil, errors.New("repair failed: no objects found")
	}

	trailer := lastTrailerDict(data)
	if trailer == nil {
		// Synthesize one; the parser will still locate /Root by type scan.
		trailer = raw.Dict()
		trailer.Set(raw.NameLiteral("Size"), raw.NumberInt(int64(maxKey(t.entries)+1)))
	}
	return &repaired{table: t, trailer: trailer}, nil
}

func lastTrailerDict(data []byte) *raw.DictObj {
	search := data
	for {
		idx := bytes.LastIndex(search, []byte("trailer"))
		if idx < 0 {
			return nil
		}
		dict, err := parseDictAt(data, int64(idx+len("trailer")))
		if err == nil {
			return dict
		}
		search = search[:idx]
	}
}

func maxKey(m map[int]entry) int {
	max := 0
	for k := range m {
		if k > max {
			max = k
		}
	}
	return max
}
