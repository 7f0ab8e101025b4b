package transcript

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// LoadResult reports the outcome of a batch load. Per-file failures are
// collected here so one malformed file never aborts the batch.
type LoadResult struct {
	Transcripts []*Transcript
	Errors      []string
	Duration    time.Duration
}

// Load reads a transcript from a file. Supported formats:
//   - .json: {"transcript_id", "turns", "events", "metadata"} or an array of such
//   - .csv:  columns transcript_id, turn_id, speaker, text [, timestamp, event_type, event_label]
//   - .txt:  one "Speaker: text" line per turn
func Load(path string) (*Transcript, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		ts, err := loadJSON(path)
		if err != nil {
			return nil, err
		}
		return ts[0], nil
	case ".csv":
		return loadCSV(path)
	case ".txt":
		return loadTXT(path)
	default:
		return nil, fmt.Errorf("unsupported transcript format: %s", filepath.Ext(path))
	}
}

// LoadAll reads every transcript in a file. JSON files may contain an
// array; other formats hold exactly one transcript.
func LoadAll(path string) ([]*Transcript, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return loadJSON(path)
	}
	t, err := Load(path)
	if err != nil {
		return nil, err
	}
	return []*Transcript{t}, nil
}

// LoadBatch loads every matching transcript file under dir. JSON files may
// contain a single transcript or an array of transcripts.
func LoadBatch(dir, pattern string) (*LoadResult, error) {
	start := time.Now()
	result := &LoadResult{}

	if pattern == "" {
		pattern = "*.json"
	}
	paths, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("bad glob pattern: %w", err)
	}

	for _, path := range paths {
		var loaded []*Transcript
		var loadErr error
		if strings.EqualFold(filepath.Ext(path), ".json") {
			loaded, loadErr = loadJSON(path)
		} else {
			var single *Transcript
			single, loadErr = Load(path)
			if loadErr == nil {
				loaded = []*Transcript{single}
			}
		}
		if loadErr != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", path, loadErr))
			continue
		}
		result.Transcripts = append(result.Transcripts, loaded...)
	}

	result.Duration = time.Since(start)
	return result, nil
}

func loadJSON(path string) ([]*Transcript, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}

	// A file may hold a single transcript or a batch array
	var batch []*Transcript
	if err := json.Unmarshal(data, &batch); err != nil {
		var single Transcript
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, fmt.Errorf("failed to parse JSON transcript: %w", err)
		}
		batch = []*Transcript{&single}
	}
	if len(batch) == 0 {
		return nil, fmt.Errorf("empty transcript list in %s", path)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	for i, t := range batch {
		if t.TranscriptID == "" {
			if len(batch) == 1 {
				t.TranscriptID = stem
			} else {
				t.TranscriptID = fmt.Sprintf("%s_%d", stem, i)
			}
		}
	}
	return batch, nil
}

func loadCSV(path string) (*Transcript, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("empty CSV transcript: %s", path)
	}

	col := make(map[string]int)
	for i, name := range records[0] {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"transcript_id", "turn_id", "speaker", "text"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("CSV missing required column %q", required)
		}
	}

	t := &Transcript{Metadata: map[string]interface{}{}}
	for _, row := range records[1:] {
		if t.TranscriptID == "" {
			t.TranscriptID = field(row, col, "transcript_id")
		}
		turnID, _ := strconv.Atoi(field(row, col, "turn_id"))
		turn := Turn{
			TurnID:  turnID,
			Speaker: field(row, col, "speaker"),
			Text:    field(row, col, "text"),
		}
		if ts := field(row, col, "timestamp"); ts != "" {
			turn.Timestamp, _ = strconv.ParseFloat(ts, 64)
		}
		t.Turns = append(t.Turns, turn)

		if et := field(row, col, "event_type"); et != "" {
			t.Events = append(t.Events, Event{
				EventType:  et,
				EventLabel: field(row, col, "event_label"),
				TurnID:     turnID,
				TurnIndex:  -1,
			})
		}
	}
	return t, nil
}

func loadTXT(path string) (*Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}

	t := &Transcript{
		TranscriptID: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Metadata:     map[string]interface{}{},
	}
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		speaker, text, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		t.Turns = append(t.Turns, Turn{
			TurnID:  i + 1,
			Speaker: strings.TrimSpace(speaker),
			Text:    strings.TrimSpace(text),
		})
	}
	return t, nil
}

func field(row []string, col map[string]int, name string) string {
	i, ok := col[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
