package dataset

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"weft/internal/coder"
)

// Row is one record of the columnar representation: one cell per output
// column, exactly one of them non-nil.
type Row [][]byte

// Cell returns column i, nil when the row belongs to another column.
func (r Row) Cell(i int) []byte {
	if i < 0 || i >= len(r) {
		return nil
	}
	return r[i]
}

// Spill stores columnar rows as per-partition segment files, each
// stream-compressed as a whole. Segment layout per row: uvarint cell
// count, then per cell uvarint(len+1) with 0 marking a nil cell,
// followed by the cell bytes.
type Spill struct {
	dir   string
	comp  coder.Compression
	files map[int]string
	bytes atomic.Int64
}

func NewSpill(dir string, comp coder.Compression) (*Spill, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("spill: %w", err)
	}
	return &Spill{dir: dir, comp: comp, files: make(map[int]string)}, nil
}

// Bytes reports the compressed size written so far.
func (s *Spill) Bytes() int64 { return s.bytes.Load() }

func (s *Spill) WritePartition(p int, rows []Row) (err error) {
	path := filepath.Join(s.dir, fmt.Sprintf("part-%05d.seg", p))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("spill: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err == nil {
			if st, serr := os.Stat(path); serr == nil {
				s.bytes.Add(st.Size())
			}
			s.files[p] = path
		}
	}()

	w, err := coder.NewSpillWriter(s.comp, f)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	var hdr [binary.MaxVarintLen64]byte
	for _, row := range rows {
		n := binary.PutUvarint(hdr[:], uint64(len(row)))
		if _, err = bw.Write(hdr[:n]); err != nil {
			return err
		}
		for _, cell := range row {
			if cell == nil {
				n = binary.PutUvarint(hdr[:], 0)
			} else {
				n = binary.PutUvarint(hdr[:], uint64(len(cell))+1)
			}
			if _, err = bw.Write(hdr[:n]); err != nil {
				return err
			}
			if _, err = bw.Write(cell); err != nil {
				return err
			}
		}
	}
	if err = bw.Flush(); err != nil {
		return err
	}
	return w.Close()
}

func (s *Spill) ReadPartition(p int) ([]Row, error) {
	path, ok := s.files[p]
	if !ok {
		return nil, fmt.Errorf("spill: no segment for partition %d", p)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("spill: %w", err)
	}
	defer f.Close()

	r, err := coder.NewSpillReader(s.comp, f)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	br := bufio.NewReader(r)
	var rows []Row
	for {
		cells, err := binary.ReadUvarint(br)
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("spill: segment %d: %w", p, err)
		}
		row := make(Row, cells)
		for i := range row {
			l, err := binary.ReadUvarint(br)
			if err != nil {
				return nil, fmt.Errorf("spill: segment %d: %w", p, err)
			}
			if l == 0 {
				continue
			}
			cell := make([]byte, l-1)
			if _, err := io.ReadFull(br, cell); err != nil {
				return nil, fmt.Errorf("spill: segment %d: %w", p, err)
			}
			row[i] = cell
		}
		rows = append(rows, row)
	}
}

// Remove deletes all written segments.
func (s *Spill) Remove() error {
	var first error
	for _, path := range s.files {
		if err := os.Remove(path); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// SpillDataset eagerly evaluates src partition by partition, writes each
// to the spill store, and returns a dataset that reads back from disk.
func SpillDataset(ctx context.Context, src *Dataset[Row], s *Spill, parallelism int) (*Dataset[Row], error) {
	parts, err := src.Collect(ctx, parallelism)
	if err != nil {
		return nil, err
	}
	for p, rows := range parts {
		if err := s.WritePartition(p, rows); err != nil {
			return nil, err
		}
	}
	return New(src.Name()+":spilled", len(parts), func(_ context.Context, p int) ([]Row, error) {
		return s.ReadPartition(p)
	}), nil
}
