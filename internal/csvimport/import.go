package csvimport

import (
	"fmt"
	"strings"
	"time"

	"civsphere/event-ingester/internal/dedup"
	"civsphere/event-ingester/internal/model"
	"civsphere/event-ingester/internal/normalize"
	"civsphere/event-ingester/internal/validate"
)

const (
	FormatAuto = "auto"
	FormatCSV  = "csv"
	FormatJSON = "json"

	ModeAppend  = "append"
	ModeReplace = "replace"
)

// Options controls one file import.
type Options struct {
	Format       string            // auto, csv or json
	DateFormat   string            // see normalize.NormalizeDate
	DedupMode    dedup.Mode        // "" means auto
	ImportMode   string            // append or replace
	FieldMapping map[string]string // target field -> source header
	DefaultToday bool              // stamp today's date on undated rows
	Classifier   normalize.Classifier
	Now          func() time.Time
}

// Result is the staged outcome of an import.
type Result struct {
	Events     []model.Event
	Valid      int
	Skipped    int
	Duplicates int
}

func (r Result) Summary() string {
	return fmt.Sprintf("Valid: %d. Skipped: %d.", r.Valid, r.Skipped)
}

// DetectFormat guesses json when the payload starts with [ or {.
func DetectFormat(text string) string {
	t := strings.TrimSpace(strings.TrimPrefix(text, "\ufeff"))
	if strings.HasPrefix(t, "[") || strings.HasPrefix(t, "{") {
		return FormatJSON
	}
	return FormatCSV
}

// Import parses text and returns the events ready to stage. Events already
// in existing are counted as duplicates unless the import replaces the store.
func Import(text string, opts Options, existing []model.Event, categories []string, ids *normalize.Sequence) (Result, error) {
	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" || format == FormatAuto {
		format = DetectFormat(text)
	}
	var (
		raws []model.RawRecord
		err  error
	)
	switch format {
	case FormatCSV:
		raws, err = ParseCSV(text)
	case FormatJSON:
		raws, err = ParseJSON([]byte(strings.TrimPrefix(text, "\ufeff")))
	default:
		return Result{}, fmt.Errorf("unknown import format %q", opts.Format)
	}
	if err != nil {
		return Result{}, err
	}
	mode := opts.DedupMode
	if mode == "" {
		mode = dedup.ModeAuto
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	n := &normalize.Normalizer{DateFormat: opts.DateFormat, Classifier: opts.Classifier, IDs: ids}
	seed := existing
	if strings.EqualFold(opts.ImportMode, ModeReplace) {
		seed = nil
	}
	idx := dedup.NewIndex(mode, seed)

	var res Result
	for _, raw := range raws {
		applyMapping(raw, opts.FieldMapping)
		e := n.Normalize(raw)
		if e.Date == "" && opts.DefaultToday {
			e.Date = now().Format("2006-01-02")
		}
		if !validate.Validate(&e, categories) {
			res.Skipped++
			continue
		}
		if !idx.Add(e) {
			res.Duplicates++
			continue
		}
		res.Events = append(res.Events, e)
	}
	res.Valid = len(res.Events)
	return res, nil
}

// applyMapping copies source columns onto target field names. Header
// aliases are honoured so a mapping may name either spelling.
func applyMapping(raw model.RawRecord, mapping map[string]string) {
	for target, header := range mapping {
		target, header = strings.TrimSpace(target), strings.TrimSpace(header)
		if target == "" || header == "" {
			continue
		}
		v, ok := raw.Value(header, NormalizeHeader(header))
		if !ok {
			continue
		}
		raw[NormalizeHeader(target)] = v
	}
}
