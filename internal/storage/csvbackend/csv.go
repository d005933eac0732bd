package csvbackend

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/FranksOps/rankscout/internal/model"
	"github.com/FranksOps/rankscout/internal/storage"
)

// ensure csvBackend implements storage.Backend
var _ storage.Backend = (*csvBackend)(nil)

type csvBackend struct {
	mu   sync.Mutex
	file *os.File
}

// Header is the CSV column order, one row per observation.
var Header = []string{
	"run_id",
	"seq",
	"id",
	"keyword",
	"brand_name",
	"branch_name",
	"title",
	"address",
	"rating",
	"rating_count",
	"category",
	"phone",
	"website",
	"cid",
	"rank_position",
	"is_local_pack",
	"local_pack_position",
	"brand_match",
	"not_found",
	"device_type",
	"country",
	"language",
	"page",
	"source_latitude",
	"source_longitude",
	"created_at",
}

// New creates a new CSV-backed storage.Backend appending to filePath. The
// header is written when the file is empty.
func New(filePath string) (storage.Backend, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("csvbackend: open %s: %w", filePath, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("csvbackend: stat %s: %w", filePath, err)
	}

	if info.Size() == 0 {
		w := csv.NewWriter(f)
		if err := w.Write(Header); err != nil {
			f.Close()
			return nil, fmt.Errorf("csvbackend: write header: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("csvbackend: write header: %w", err)
		}
	}

	return &csvBackend{file: f}, nil
}

// Record renders o in Header order. Absent positions and coordinates are
// written as empty cells.
func Record(o *model.Observation) []string {
	return []string{
		o.RunID,
		strconv.Itoa(o.Seq),
		o.ID,
		o.Keyword,
		o.BrandName,
		o.BranchName,
		o.Title,
		o.Address,
		strconv.FormatFloat(o.Rating, 'f', -1, 64),
		strconv.Itoa(o.RatingCount),
		o.Category,
		o.Phone,
		o.Website,
		o.CID,
		formatInt(o.RankPosition),
		strconv.FormatBool(o.IsLocalPack),
		formatInt(o.LocalPackPosition),
		strconv.FormatBool(o.BrandMatch),
		strconv.FormatBool(o.NotFound),
		o.DeviceType,
		o.Country,
		o.Language,
		strconv.Itoa(o.Page),
		formatFloat(o.SourceLatitude),
		formatFloat(o.SourceLongitude),
		o.CreatedAt.Format(time.RFC3339Nano),
	}
}

func (b *csvBackend) SaveRun(ctx context.Context, run *model.RunResult) error {
	storage.Stamp(run)

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("csvbackend: seek: %w", err)
	}

	w := csv.NewWriter(b.file)
	for _, o := range run.Observations {
		if err := w.Write(Record(o)); err != nil {
			return fmt.Errorf("csvbackend: write observation %s: %w", o.ID, err)
		}
	}
	w.Flush()

	if err := w.Error(); err != nil {
		return fmt.Errorf("csvbackend: flush: %w", err)
	}
	return nil
}

func (b *csvBackend) Query(ctx context.Context, filter storage.Filter) ([]*model.Observation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("csvbackend: seek: %w", err)
	}
	defer func() {
		// Restore pointer to end for writing
		_, _ = b.file.Seek(0, io.SeekEnd)
	}()

	r := csv.NewReader(b.file)
	r.FieldsPerRecord = -1

	if _, err := r.Read(); err != nil {
		if err == io.EOF {
			return []*model.Observation{}, nil
		}
		return nil, fmt.Errorf("csvbackend: read header: %w", err)
	}

	var all []*model.Observation
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csvbackend: read: %w", err)
		}
		if len(record) != len(Header) {
			continue // skip malformed rows
		}
		all = append(all, parseRecord(record))
	}

	return filter.Apply(all), nil
}

func parseRecord(rec []string) *model.Observation {
	seq, _ := strconv.Atoi(rec[1])
	rating, _ := strconv.ParseFloat(rec[8], 64)
	ratingCount, _ := strconv.Atoi(rec[9])
	isLocalPack, _ := strconv.ParseBool(rec[15])
	brandMatch, _ := strconv.ParseBool(rec[17])
	notFound, _ := strconv.ParseBool(rec[18])
	page, _ := strconv.Atoi(rec[22])
	createdAt, _ := time.Parse(time.RFC3339Nano, rec[25])

	return &model.Observation{
		RunID:             rec[0],
		Seq:               seq,
		ID:                rec[2],
		Keyword:           rec[3],
		BrandName:         rec[4],
		BranchName:        rec[5],
		Title:             rec[6],
		Address:           rec[7],
		Rating:            rating,
		RatingCount:       ratingCount,
		Category:          rec[10],
		Phone:             rec[11],
		Website:           rec[12],
		CID:               rec[13],
		RankPosition:      parseInt(rec[14]),
		IsLocalPack:       isLocalPack,
		LocalPackPosition: parseInt(rec[16]),
		BrandMatch:        brandMatch,
		NotFound:          notFound,
		DeviceType:        rec[19],
		Country:           rec[20],
		Language:          rec[21],
		Page:              page,
		SourceLatitude:    parseFloat(rec[23]),
		SourceLongitude:   parseFloat(rec[24]),
		CreatedAt:         createdAt,
	}
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func parseInt(s string) *int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

func parseFloat(s string) *float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func (b *csvBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}
